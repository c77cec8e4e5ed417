package reservation

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// QR tokens look like SP-<unix seconds, base36 uppercased>-<16 hex chars>.
// The random half is wide enough that collisions are practically impossible,
// but the create path still retries on the unique constraint.
var qrPattern = regexp.MustCompile(`^SP-[0-9A-Z]+-[0-9a-f]{16}$`)

func generateQRCode(now time.Time) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	ts := strings.ToUpper(strconv.FormatInt(now.Unix(), 36))
	return fmt.Sprintf("SP-%s-%s", ts, hex.EncodeToString(buf))
}

// ValidQRFormat reports whether a scanned token is shaped like one of ours,
// letting handlers reject garbage before a database round trip.
func ValidQRFormat(code string) bool {
	return qrPattern.MatchString(code)
}
