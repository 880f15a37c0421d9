package bitapi

import (
	"strings"
)

// DeviceClass is the fingerprint device family of a window.
type DeviceClass string

const (
	DeviceDesktop DeviceClass = "desktop"
	DeviceMobile  DeviceClass = "mobile"
)

// WindowInfo is one managed browser profile as reported by the vendor.
// Raw keeps the full vendor payload so a window can serve as a creation
// template without this package knowing every fingerprint field.
type WindowInfo struct {
	ID          string
	Name        string
	UserName    string
	Remark      string
	Seq         int64
	OSType      string
	OS          string
	Fingerprint map[string]any
	Raw         map[string]any
}

// DeviceClass classifies the window from its OS fields; the vendor
// reports android windows with "android" in ostype or os, either at the
// top level or inside the fingerprint block.
func (w WindowInfo) DeviceClass() DeviceClass {
	for _, v := range []string{w.OSType, w.OS, stringField(w.Fingerprint, "ostype"), stringField(w.Fingerprint, "os")} {
		if strings.Contains(strings.ToLower(v), "android") {
			return DeviceMobile
		}
	}
	return DeviceDesktop
}

// BoundEmail is the account the window is tagged with: the userName
// field wins; a free-text remark contributes its first field when
// userName is empty. Empty means unbound.
func (w WindowInfo) BoundEmail() string {
	if user := normalizeEmail(w.UserName); user != "" {
		return user
	}
	return emailFromRemark(w.Remark)
}

// MatchesEmail reports whether the window is bound to the given account.
func (w WindowInfo) MatchesEmail(email string) bool {
	target := normalizeEmail(email)
	return target != "" && w.BoundEmail() == target
}

func normalizeEmail(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// emailFromRemark extracts the leading email from a credential remark
// line such as "user@x.com----pw----recovery@x.com----SECRET".
func emailFromRemark(remark string) string {
	remark = strings.TrimSpace(remark)
	if remark == "" {
		return ""
	}
	for _, sep := range []string{"----", "---", "|", ",", ";", "\t"} {
		if strings.Contains(remark, sep) {
			return normalizeEmail(strings.SplitN(remark, sep, 2)[0])
		}
	}
	fields := strings.Fields(remark)
	if len(fields) == 0 {
		return ""
	}
	return normalizeEmail(fields[0])
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func windowFromRaw(raw map[string]any) WindowInfo {
	w := WindowInfo{
		ID:       stringField(raw, "id"),
		Name:     stringField(raw, "name"),
		UserName: stringField(raw, "userName"),
		Remark:   stringField(raw, "remark"),
		OSType:   stringField(raw, "ostype"),
		OS:       stringField(raw, "os"),
		Raw:      raw,
	}
	switch v := raw["seq"].(type) {
	case float64:
		w.Seq = int64(v)
	case int64:
		w.Seq = v
	}
	if fp, ok := raw["browserFingerPrint"].(map[string]any); ok {
		w.Fingerprint = fp
	}
	return w
}

// CreateSpec carries the account identity stamped onto a new window.
type CreateSpec struct {
	Email         string
	Password      string
	RecoveryEmail string
	SecretKey     string
	DeviceClass   DeviceClass
}

// credentialLine renders the remark line used to tag a window with its
// account, mirroring the bulk-import format.
func (s CreateSpec) credentialLine() string {
	return strings.Join([]string{s.Email, s.Password, s.RecoveryEmail, s.SecretKey}, "----")
}

// OpenResult is the vendor's handle to a launched window.
type OpenResult struct {
	DriverPath   string
	DebugAddress string
}
