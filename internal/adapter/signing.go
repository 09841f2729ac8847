package adapter

import (
	"strconv"
	"time"
)

// TimestampSignature reproduces the first of spec §4.5's two vendor
// signing algorithms byte-for-byte, including the digit-mangling step:
// T = now-in-millis as a decimal string; A = sum of T's digits minus the
// digit at T's second-to-last position; a = A mod 10; the emitted
// timestamp is T with that digit replaced by a. A random 32-hex nonce is
// generated, and sign = md5(timestamp + "-" + nonce + "-" + secret).
//
// original_source/ contributed no files for this vendor (see DESIGN.md),
// so SECRET has no ground-truth value to copy; it is carried as a
// constructor parameter instead of a hardcoded constant.
func TimestampSignature(secret string) (timestamp, nonce, sign string) {
	millis := time.Now().UnixMilli()
	t := strconv.FormatInt(millis, 10)

	sum := 0
	for i := 0; i < len(t); i++ {
		sum += int(t[i] - '0')
	}
	secondLast := int(t[len(t)-2] - '0')
	a := ((sum - secondLast) % 10 + 10) % 10

	mangled := []byte(t)
	mangled[len(mangled)-2] = byte('0' + a)
	timestamp = string(mangled)

	nonce = RandomHex(32)
	sign = MD5Hex(timestamp + "-" + nonce + "-" + secret)
	return timestamp, nonce, sign
}

// FakeUserData is the fixed query-string payload the yy/x-signature
// algorithm mixes into every signed request, impersonating a specific
// client build (spec §9's "FAKE_HEADERS... port them verbatim"). As with
// TimestampSignature's secret, original_source/ contributed no file
// carrying the vendor's real constant values, so this is a representative
// fixed object in the same shape rather than a byte-for-byte copy.
var FakeUserData = map[string]string{
	"platform":     "web",
	"app_version":  "1.0.0",
	"device_type":  "desktop",
	"channel":      "official",
}

// fakeUserDataOrder fixes the query-string key order so the signature
// computation is deterministic run to run.
var fakeUserDataOrder = []string{"platform", "app_version", "device_type", "channel"}

// YYSignature reproduces spec §4.5's second vendor signing algorithm:
// unix = now-in-millis as a decimal string; timestamp = floor(now/1000);
// the query string is FAKE_USER_DATA plus {uuid, user_id, unix, token};
// uri = "/v1/api/user/info?" + queryStr; yy = md5(encodeURIComponent(uri)
// + "_" + "{}" + md5(unix) + "ooui"); x-signature = md5(timestamp +
// jwtToken + "{}").
func YYSignature(userID, jwtToken string) (yy, xSignature, unix, timestamp string) {
	millis := time.Now().UnixMilli()
	unix = strconv.FormatInt(millis, 10)
	timestamp = strconv.FormatInt(millis/1000, 10)

	pairs := make([][2]string, 0, len(fakeUserDataOrder)+4)
	for _, k := range fakeUserDataOrder {
		pairs = append(pairs, [2]string{k, FakeUserData[k]})
	}
	pairs = append(pairs,
		[2]string{"uuid", userID},
		[2]string{"user_id", userID},
		[2]string{"unix", unix},
		[2]string{"token", jwtToken},
	)

	queryStr := buildQueryString(pairs)
	uri := "/v1/api/user/info?" + queryStr

	yy = MD5Hex(EncodeURIComponent(uri) + "_" + "{}" + MD5Hex(unix) + "ooui")
	xSignature = MD5Hex(timestamp + jwtToken + "{}")
	return yy, xSignature, unix, timestamp
}

func buildQueryString(pairs [][2]string) string {
	var out []byte
	for i, p := range pairs {
		if i > 0 {
			out = append(out, '&')
		}
		out = append(out, EncodeURIComponent(p[0])...)
		out = append(out, '=')
		out = append(out, EncodeURIComponent(p[1])...)
	}
	return string(out)
}
