package scim

import (
	"fmt"

	"github.com/auth9/auth9core/core"
)

// toRow flattens a user into the lowercase storage-column keys the filter
// grammar's mapper understands. Unknown attributes in a filter are rejected
// before reaching this function (see mapAttribute).
func toRow(u *core.User) map[string]interface{} {
	row := map[string]interface{}{
		"username":    u.Email,
		"userName":    u.Email,
		"email":       u.Email,
		"externalid":  "",
		"externalId":  "",
		"active":      !u.IsSoftDeleted(),
		"displayname": "",
	}
	if u.ScimExternalID != nil {
		row["externalid"] = *u.ScimExternalID
		row["externalId"] = *u.ScimExternalID
	}
	if u.DisplayName != nil {
		row["displayname"] = *u.DisplayName
	}
	return row
}

// mapAttribute translates a SCIM attribute name to a storage column,
// rejecting anything this mapper doesn't recognize.
func mapAttribute(attr string) (string, error) {
	switch attr {
	case "userName", "username":
		return "username", nil
	case "externalId", "externalid":
		return "externalid", nil
	case "active":
		return "active", nil
	case "emails", "email":
		return "email", nil
	case "displayName", "displayname", "name.formatted":
		return "displayname", nil
	default:
		return "", fmt.Errorf("unknown attribute %q", attr)
	}
}

// validateFilterAttributes walks the parsed tree and rejects unknown
// attributes with a bad-request-shaped error before any scan runs.
func validateFilterAttributes(n *filterNode) error {
	if n == nil {
		return nil
	}
	if n.Not != nil {
		return validateFilterAttributes(n.Not)
	}
	for _, c := range n.And {
		if err := validateFilterAttributes(c); err != nil {
			return err
		}
	}
	for _, c := range n.Or {
		if err := validateFilterAttributes(c); err != nil {
			return err
		}
	}
	if n.And == nil && n.Or == nil && n.Not == nil {
		if _, err := mapAttribute(n.Attr); err != nil {
			return err
		}
	}
	return nil
}

// toScimUser maps a core.User to the SCIM User resource representation.
func toScimUser(u *core.User, baseURL string) map[string]interface{} {
	out := map[string]interface{}{
		"schemas":  []string{"urn:ietf:params:scim:schemas:core:2.0:User"},
		"id":       u.ID,
		"userName": u.Email,
		"emails":   []map[string]interface{}{{"value": u.Email, "primary": true}},
		"active":   !u.IsSoftDeleted(),
		"meta": map[string]interface{}{
			"resourceType": "User",
			"location":     baseURL + "/Users/" + u.ID,
		},
	}
	if u.DisplayName != nil {
		out["displayName"] = *u.DisplayName
	}
	if u.AvatarURL != nil {
		out["photos"] = []map[string]interface{}{{"value": *u.AvatarURL, "type": "photo"}}
	}
	if u.ScimExternalID != nil {
		out["externalId"] = *u.ScimExternalID
	}
	return out
}

func scimUserEmail(attrs map[string]interface{}) string {
	if v, ok := attrs["userName"].(string); ok {
		return v
	}
	return ""
}

func scimUserDisplayName(attrs map[string]interface{}) *string {
	if v, ok := attrs["displayName"].(string); ok && v != "" {
		return &v
	}
	return nil
}

func scimUserExternalID(attrs map[string]interface{}) *string {
	if v, ok := attrs["externalId"].(string); ok && v != "" {
		return &v
	}
	return nil
}

func scimUserActive(attrs map[string]interface{}) (bool, bool) {
	v, ok := attrs["active"].(bool)
	return v, ok
}
