package validation

import "testing"

func TestValidateUUID(t *testing.T) {
	cases := []struct {
		id      string
		wantErr bool
	}{
		{"", true},
		{"not-a-uuid", true},
		{"123e4567-e89b-12d3-a456-426614174000", false},
		{"123E4567-E89B-12D3-A456-426614174000", false},
	}
	for _, c := range cases {
		err := ValidateUUID(c.id)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateUUID(%q) err = %v, wantErr %v", c.id, err, c.wantErr)
		}
	}
}

func TestValidateSessionIDWrapsUUIDError(t *testing.T) {
	err := ValidateSessionID("bad")
	if err == nil {
		t.Fatalf("expected error for invalid session id")
	}
}

func TestValidateUDID(t *testing.T) {
	cases := []struct {
		udid    string
		wantErr bool
	}{
		{"", true},
		{"123e4567-e89b-12d3-a456-426614174000", false},               // simulator UUID
		{"0123456789abcdef0123456789abcdef012345678", true},          // 41 hex chars, too long
		{"0123456789abcdef0123456789abcdef01234567", false},          // 40 hex chars
		{"ABCDEF01-0123456789ABCDEF", false},               // 8+16 dash format
		{"not-a-udid", true},
	}
	for _, c := range cases {
		err := ValidateUDID(c.udid)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateUDID(%q) err = %v, wantErr %v", c.udid, err, c.wantErr)
		}
	}
}

func TestValidateBundleID(t *testing.T) {
	cases := []struct {
		bundleID string
		wantErr  bool
	}{
		{"", true},
		{"com.example.App", false},
		{"com.example.my-app", false},
		{"justoneword", true},
		{"com/example/App", true},
	}
	for _, c := range cases {
		err := ValidateBundleID(c.bundleID)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateBundleID(%q) err = %v, wantErr %v", c.bundleID, err, c.wantErr)
		}
	}
}

func TestValidateSelector(t *testing.T) {
	cases := []struct {
		selector string
		wantErr  bool
	}{
		{"", true},
		{"login-button", false},
		{"Log*n", false},
		{string(make([]byte, 513)), true},
		{"bad\x01char", true},
	}
	for _, c := range cases {
		err := ValidateSelector(c.selector)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateSelector(%q) err = %v, wantErr %v", c.selector, err, c.wantErr)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	cases := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{"", "", true},
		{"../etc/passwd", "", true},
		{"/etc/passwd", "", true},
		{"project/sub dir", "", true},
		{"project/sub-dir.v2", "project/sub-dir.v2", false},
	}
	for _, c := range cases {
		got, err := SanitizePath(c.path)
		if (err != nil) != c.wantErr {
			t.Errorf("SanitizePath(%q) err = %v, wantErr %v", c.path, err, c.wantErr)
			continue
		}
		if err == nil && got != c.want {
			t.Errorf("SanitizePath(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}
