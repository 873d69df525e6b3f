package hypervisor

import (
	"encoding/hex"
	"strings"

	"github.com/digitalocean/go-libvirt"
)

// uuidString renders a libvirt.UUID as the canonical dashed hex form.
func uuidString(u libvirt.UUID) string {
	h := hex.EncodeToString(u[:])
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

// parseUUID converts a canonical dashed hex uuid string to a
// libvirt.UUID. Malformed input yields the zero UUID, which simply
// fails to match any domain on lookup.
func parseUUID(s string) libvirt.UUID {
	var u libvirt.UUID
	raw, err := hex.DecodeString(strings.ReplaceAll(s, "-", ""))
	if err != nil || len(raw) != len(u) {
		return u
	}
	copy(u[:], raw)
	return u
}
