package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRoleValid(t *testing.T) {
	for _, r := range Roles() {
		if !r.Valid() {
			t.Errorf("Role %q should be valid", r)
		}
	}
	for _, r := range []Role{"", "superadmin", "Admin", "root"} {
		if r.Valid() {
			t.Errorf("Role %q should be invalid", r)
		}
	}
}

func TestAPIKeyHashNeverSerialized(t *testing.T) {
	now := time.Now().UTC()
	key := APIKey{
		ID:        "key-1",
		OrgID:     "org-1",
		CreatedBy: "user-1",
		Name:      "ci",
		Role:      RoleViewer,
		KeyPrefix: "cf_live_deadbeef",
		KeyHash:   "$2a$10$secret-bcrypt-material",
		CreatedAt: now,
	}

	b, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(b), "bcrypt-material") {
		t.Errorf("serialized API key leaks the hash: %s", b)
	}
	if !strings.Contains(string(b), "cf_live_deadbeef") {
		t.Errorf("serialized API key should carry the public prefix: %s", b)
	}
}
