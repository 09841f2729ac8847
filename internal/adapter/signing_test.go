package adapter

import (
	"strconv"
	"strings"
	"testing"
)

func TestTimestampSignature_Shape(t *testing.T) {
	timestamp, nonce, sign := TimestampSignature("secret")

	if len(nonce) != 32 {
		t.Errorf("nonce length = %d, want 32", len(nonce))
	}
	if len(sign) != 32 {
		t.Errorf("sign length = %d, want 32 (md5 hex)", len(sign))
	}

	millis, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		t.Fatalf("timestamp %q is not numeric: %v", timestamp, err)
	}
	if millis <= 0 {
		t.Fatalf("timestamp %q parsed non-positive", timestamp)
	}

	wantSign := MD5Hex(timestamp + "-" + nonce + "-secret")
	if sign != wantSign {
		t.Errorf("sign = %q, want %q", sign, wantSign)
	}
}

// TestTimestampSignature_SecondLastDigitMatchesFormula re-derives the
// digit-mangling invariant from the *output* alone. Replacing T's digit at
// len-2 with a = (sum(T) - T[len-2]) mod 10 only changes that one position,
// so the sum of the mangled timestamp's digits excluding that position
// equals sum(T) minus the original digit — exactly a's definition, mod 10.
// That makes the invariant checkable without ever seeing the pre-image T.
func TestTimestampSignature_SecondLastDigitMatchesFormula(t *testing.T) {
	timestamp, _, _ := TimestampSignature("secret")
	if len(timestamp) < 2 {
		t.Fatalf("timestamp too short: %q", timestamp)
	}

	pos := len(timestamp) - 2
	sumExcludingPos := 0
	for i := 0; i < len(timestamp); i++ {
		if i == pos {
			continue
		}
		sumExcludingPos += int(timestamp[i] - '0')
	}
	wantDigit := sumExcludingPos % 10
	gotDigit := int(timestamp[pos] - '0')
	if gotDigit != wantDigit {
		t.Errorf("mangled digit at position %d = %d, want %d (timestamp %q)", pos, gotDigit, wantDigit, timestamp)
	}
}

func TestTimestampSignature_UniqueNoncePerCall(t *testing.T) {
	_, nonceA, _ := TimestampSignature("secret")
	_, nonceB, _ := TimestampSignature("secret")
	if nonceA == nonceB {
		t.Error("two calls produced the same nonce")
	}
}

func TestYYSignature_Deterministic(t *testing.T) {
	yy, xSignature, unix, timestamp := YYSignature("user-1", "jwt-token")

	if len(yy) != 32 || len(xSignature) != 32 {
		t.Fatalf("yy/x-signature should be md5 hex: yy=%q xSignature=%q", yy, xSignature)
	}

	wantXSignature := MD5Hex(timestamp + "jwt-token" + "{}")
	if xSignature != wantXSignature {
		t.Errorf("xSignature = %q, want %q", xSignature, wantXSignature)
	}

	queryStr := buildQueryString([][2]string{
		{"platform", FakeUserData["platform"]},
		{"app_version", FakeUserData["app_version"]},
		{"device_type", FakeUserData["device_type"]},
		{"channel", FakeUserData["channel"]},
		{"uuid", "user-1"},
		{"user_id", "user-1"},
		{"unix", unix},
		{"token", "jwt-token"},
	})
	uri := "/v1/api/user/info?" + queryStr
	wantYY := MD5Hex(EncodeURIComponent(uri) + "_" + "{}" + MD5Hex(unix) + "ooui")
	if yy != wantYY {
		t.Errorf("yy = %q, want %q", yy, wantYY)
	}
}

func TestYYSignature_TimestampIsUnixSeconds(t *testing.T) {
	_, _, unix, timestamp := YYSignature("user-1", "jwt-token")

	unixMillis, err := strconv.ParseInt(unix, 10, 64)
	if err != nil {
		t.Fatalf("unix %q not numeric: %v", unix, err)
	}
	timestampSeconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		t.Fatalf("timestamp %q not numeric: %v", timestamp, err)
	}
	if unixMillis/1000 != timestampSeconds {
		t.Errorf("timestamp %d is not floor(unix/1000) for unix %d", timestampSeconds, unixMillis)
	}
}

func TestBuildQueryString_Order(t *testing.T) {
	got := buildQueryString([][2]string{{"a", "1"}, {"b", "2 "}})
	want := "a=1&b=2%20"
	if got != want {
		t.Errorf("buildQueryString = %q, want %q", got, want)
	}
}

func TestBuildQueryString_EscapesKeysAndValues(t *testing.T) {
	got := buildQueryString([][2]string{{"k&", "v="}})
	if !strings.Contains(got, "%26") || !strings.Contains(got, "%3D") {
		t.Errorf("expected escaped '&' and '=' in %q", got)
	}
}
