// Package scim implements the SCIM 2.0 provisioning surface of spec.md §4.4.
package scim

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/auth9/auth9core/core"
	"github.com/google/uuid"
)

// IdpAdminClient is the minimal upstream-IdP surface SCIM provisioning needs:
// creating a user record in the external IdP before mirroring it locally.
type IdpAdminClient interface {
	CreateUser(ctx context.Context, email, displayName string) (idpSub string, err error)
}

// Server implements core.ScimServer.
type Server struct {
	users    core.UserStore
	provLog  core.ScimProvisioningLogStore
	idpAdmin IdpAdminClient
	clock    core.Clock
}

func NewServer(users core.UserStore, provLog core.ScimProvisioningLogStore, idpAdmin IdpAdminClient, clock core.Clock) *Server {
	return &Server{users: users, provLog: provLog, idpAdmin: idpAdmin, clock: clock}
}

func (s *Server) logEntry(ctx context.Context, rctx core.ScimRequestContext, op, resourceType string, scimID, auth9ID *string, status string, errDetail *string, responseStatus int) {
	if s.provLog == nil {
		return
	}
	_ = s.provLog.Create(ctx, &core.ScimProvisioningLogEntry{
		ID:              uuid.New().String(),
		TenantID:        rctx.TenantID,
		ConnectorID:     rctx.ConnectorID,
		Operation:       op,
		ResourceType:    resourceType,
		ScimResourceID:  scimID,
		Auth9ResourceID: auth9ID,
		Status:          status,
		ErrorDetail:     errDetail,
		ResponseStatus:  &responseStatus,
		CreatedAt:       s.clock.Now(),
	})
}

func errDetailPtr(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}

// CreateUser implements core.ScimServer.CreateUser.
func (s *Server) CreateUser(ctx context.Context, rctx core.ScimRequestContext, attrs map[string]interface{}) (map[string]interface{}, error) {
	email := scimUserEmail(attrs)
	if email == "" {
		return nil, fmt.Errorf("userName is required")
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil && existing != nil {
		if existing.ScimExternalID != nil {
			s.logEntry(ctx, rctx, "create", "User", nil, &existing.ID, "error", strPtr("already scim-provisioned"), 409)
			return nil, fmt.Errorf("user already provisioned by scim: conflict")
		}

		extID := scimUserExternalID(attrs)
		if extID == nil {
			id := uuid.New().String()
			extID = &id
		}
		existing.ScimExternalID = extID
		existing.ScimProvisionedBy = &rctx.ConnectorID
		existing.UpdatedAt = s.clock.Now()
		if err := s.users.Update(ctx, existing); err != nil {
			s.logEntry(ctx, rctx, "create", "User", extID, &existing.ID, "error", errDetailPtr(err), 500)
			return nil, fmt.Errorf("link existing user: %w", err)
		}
		s.logEntry(ctx, rctx, "create", "User", extID, &existing.ID, "success", nil, 201)
		return toScimUser(existing, rctx.BaseURL), nil
	}

	idpSub, err := s.idpAdmin.CreateUser(ctx, email, derefOr(scimUserDisplayName(attrs), ""))
	if err != nil {
		s.logEntry(ctx, rctx, "create", "User", nil, nil, "error", errDetailPtr(err), 502)
		return nil, fmt.Errorf("create user upstream: %w", err)
	}

	extID := scimUserExternalID(attrs)
	now := s.clock.Now()
	user := &core.User{
		ExternalIdpID:     idpSub,
		Email:             email,
		DisplayName:       scimUserDisplayName(attrs),
		ScimExternalID:    extID,
		ScimProvisionedBy: &rctx.ConnectorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		s.logEntry(ctx, rctx, "create", "User", extID, nil, "error", errDetailPtr(err), 500)
		return nil, fmt.Errorf("create local user: %w", err)
	}
	s.logEntry(ctx, rctx, "create", "User", extID, &user.ID, "success", nil, 201)
	return toScimUser(user, rctx.BaseURL), nil
}

// ReplaceUser implements core.ScimServer.ReplaceUser (SCIM PUT).
func (s *Server) ReplaceUser(ctx context.Context, rctx core.ScimRequestContext, id string, attrs map[string]interface{}) (map[string]interface{}, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	user.DisplayName = scimUserDisplayName(attrs)
	if photos, ok := attrs["photos"].([]interface{}); ok && len(photos) > 0 {
		if first, ok := photos[0].(map[string]interface{}); ok {
			if v, ok := first["value"].(string); ok {
				user.AvatarURL = &v
			}
		}
	}
	if extID := scimUserExternalID(attrs); extID != nil {
		user.ScimExternalID = extID
	}
	applyActiveFlag(user, attrs, s.clock.Now())
	user.UpdatedAt = s.clock.Now()

	if err := s.users.Update(ctx, user); err != nil {
		s.logEntry(ctx, rctx, "replace", "User", user.ScimExternalID, &user.ID, "error", errDetailPtr(err), 500)
		return nil, err
	}
	s.logEntry(ctx, rctx, "replace", "User", user.ScimExternalID, &user.ID, "success", nil, 200)
	return toScimUser(user, rctx.BaseURL), nil
}

// PatchUser implements core.ScimServer.PatchUser.
func (s *Server) PatchUser(ctx context.Context, rctx core.ScimRequestContext, id string, operations []core.ScimPatchOp) (map[string]interface{}, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	for _, op := range operations {
		switch op.Op {
		case "add", "replace":
			if err := applyPatchField(user, op.Path, op.Value, s.clock.Now()); err != nil {
				return nil, err
			}
		case "remove":
			switch op.Path {
			case "displayName":
				user.DisplayName = nil
			case "photos":
				user.AvatarURL = nil
			default:
				return nil, fmt.Errorf("remove not supported for path %q", op.Path)
			}
		default:
			return nil, fmt.Errorf("unsupported patch op %q", op.Op)
		}
	}
	user.UpdatedAt = s.clock.Now()

	if err := s.users.Update(ctx, user); err != nil {
		s.logEntry(ctx, rctx, "patch", "User", user.ScimExternalID, &user.ID, "error", errDetailPtr(err), 500)
		return nil, err
	}
	s.logEntry(ctx, rctx, "patch", "User", user.ScimExternalID, &user.ID, "success", nil, 200)
	return toScimUser(user, rctx.BaseURL), nil
}

func applyPatchField(user *core.User, path string, value interface{}, now time.Time) error {
	switch path {
	case "displayName":
		if s, ok := value.(string); ok {
			user.DisplayName = &s
		}
	case "active":
		if b, ok := value.(bool); ok {
			setActive(user, b, now)
		}
	case "externalId":
		if s, ok := value.(string); ok {
			user.ScimExternalID = &s
		}
	case "userName":
		if s, ok := value.(string); ok {
			user.Email = s
		}
	default:
		return fmt.Errorf("unsupported patch path %q", path)
	}
	return nil
}

func applyActiveFlag(user *core.User, attrs map[string]interface{}, now time.Time) {
	if active, ok := scimUserActive(attrs); ok {
		setActive(user, active, now)
	}
}

func setActive(user *core.User, active bool, now time.Time) {
	if active {
		user.LockedUntil = nil
		return
	}
	far := now.AddDate(100, 0, 0)
	user.LockedUntil = &far
}

// DeleteUser implements core.ScimServer.DeleteUser: a soft delete via a
// far-future locked_until, matching core.User.IsSoftDeleted's convention.
func (s *Server) DeleteUser(ctx context.Context, rctx core.ScimRequestContext, id string) error {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("user not found: %w", err)
	}
	far := s.clock.Now().AddDate(100, 0, 0)
	user.LockedUntil = &far
	user.UpdatedAt = s.clock.Now()
	if err := s.users.Update(ctx, user); err != nil {
		s.logEntry(ctx, rctx, "delete", "User", user.ScimExternalID, &user.ID, "error", errDetailPtr(err), 500)
		return err
	}
	s.logEntry(ctx, rctx, "delete", "User", user.ScimExternalID, &user.ID, "success", nil, 204)
	return nil
}

// GetUser implements core.ScimServer.GetUser.
func (s *Server) GetUser(ctx context.Context, rctx core.ScimRequestContext, id string) (map[string]interface{}, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	return toScimUser(user, rctx.BaseURL), nil
}

// ListUsers implements core.ScimServer.ListUsers, optimizing the two hot
// filters (userName eq, externalId eq) to indexed lookups and falling back
// to a search-then-filter scan for everything else.
func (s *Server) ListUsers(ctx context.Context, rctx core.ScimRequestContext, filter string, startIndex, count int) (core.ScimListResponse, error) {
	node, err := parseFilter(filter)
	if err != nil {
		return core.ScimListResponse{}, fmt.Errorf("invalid filter: %w", err)
	}
	if err := validateFilterAttributes(node); err != nil {
		return core.ScimListResponse{}, fmt.Errorf("invalid filter: %w", err)
	}

	if username, ok := node.isSimpleEquality("userName"); ok {
		return s.listByEmail(ctx, rctx, username, startIndex, count)
	}
	if extID, ok := node.isSimpleEquality("externalId"); ok {
		return s.listByExternalID(ctx, rctx, extID, startIndex, count)
	}

	predicate := func(u *core.User) bool {
		return evalFilter(node, toRow(u))
	}
	matches, _, err := s.users.Search(ctx, predicate, 10000, "")
	if err != nil {
		return core.ScimListResponse{}, err
	}
	return paginate(matches, rctx.BaseURL, startIndex, count), nil
}

func (s *Server) listByEmail(ctx context.Context, rctx core.ScimRequestContext, email string, startIndex, count int) (core.ScimListResponse, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return core.ScimListResponse{TotalResults: 0, StartIndex: startIndex, ItemsPerPage: 0, Resources: []map[string]interface{}{}}, nil
	}
	return paginate([]*core.User{user}, rctx.BaseURL, startIndex, count), nil
}

func (s *Server) listByExternalID(ctx context.Context, rctx core.ScimRequestContext, extID string, startIndex, count int) (core.ScimListResponse, error) {
	user, err := s.users.GetByScimExternalID(ctx, extID)
	if err != nil {
		return core.ScimListResponse{TotalResults: 0, StartIndex: startIndex, ItemsPerPage: 0, Resources: []map[string]interface{}{}}, nil
	}
	return paginate([]*core.User{user}, rctx.BaseURL, startIndex, count), nil
}

func paginate(users []*core.User, baseURL string, startIndex, count int) core.ScimListResponse {
	if startIndex < 1 {
		startIndex = 1
	}
	if count <= 0 {
		count = len(users)
	}

	total := len(users)
	from := startIndex - 1
	if from > total {
		from = total
	}
	to := from + count
	if to > total {
		to = total
	}

	page := make([]map[string]interface{}, 0, to-from)
	for _, u := range users[from:to] {
		page = append(page, toScimUser(u, baseURL))
	}

	return core.ScimListResponse{
		TotalResults: total,
		StartIndex:   startIndex,
		ItemsPerPage: len(page),
		Resources:    page,
	}
}

// Bulk implements core.ScimServer.Bulk, dispatching each operation in order
// to the matching single-resource handler. failOnErrors honors spec.md §4.4:
// a value <= 0 means unlimited (run every operation to completion); once
// errorCount reaches failOnErrors, processing stops and a final synthetic
// entry is appended describing the abort. Entries already produced keep
// their per-operation 201/204/4xx statuses.
func (s *Server) Bulk(ctx context.Context, rctx core.ScimRequestContext, ops []core.ScimBulkOp, failOnErrors int) ([]core.ScimBulkResult, error) {
	results := make([]core.ScimBulkResult, 0, len(ops))
	errorCount := 0
	for i, op := range ops {
		result := s.dispatchBulkOp(ctx, rctx, op)
		results = append(results, result)
		if result.Status >= 400 {
			errorCount++
		}
		if failOnErrors > 0 && errorCount >= failOnErrors {
			if i+1 < len(ops) {
				results = append(results, core.ScimBulkResult{
					Status:   507,
					Response: bulkError(fmt.Errorf("aborted after %d errors (failOnErrors=%d); %d operation(s) not attempted", errorCount, failOnErrors, len(ops)-i-1)),
				})
			}
			break
		}
	}
	return results, nil
}

func (s *Server) dispatchBulkOp(ctx context.Context, rctx core.ScimRequestContext, op core.ScimBulkOp) core.ScimBulkResult {
	method := strings.ToUpper(op.Method)
	id := bulkPathID(op.Path)

	switch method {
	case "POST":
		user, err := s.CreateUser(ctx, rctx, op.Data)
		if err != nil {
			return core.ScimBulkResult{BulkID: op.BulkID, Status: 400, Response: bulkError(err)}
		}
		return core.ScimBulkResult{BulkID: op.BulkID, Location: rctx.BaseURL + "/Users/" + fmt.Sprint(user["id"]), Status: 201, Response: user}
	case "PUT":
		user, err := s.ReplaceUser(ctx, rctx, id, op.Data)
		if err != nil {
			return core.ScimBulkResult{BulkID: op.BulkID, Status: 400, Response: bulkError(err)}
		}
		return core.ScimBulkResult{BulkID: op.BulkID, Status: 200, Response: user}
	case "DELETE":
		if err := s.DeleteUser(ctx, rctx, id); err != nil {
			return core.ScimBulkResult{BulkID: op.BulkID, Status: 404, Response: bulkError(err)}
		}
		return core.ScimBulkResult{BulkID: op.BulkID, Status: 204}
	default:
		return core.ScimBulkResult{BulkID: op.BulkID, Status: 400, Response: bulkError(fmt.Errorf("unsupported bulk method %q", op.Method))}
	}
}

func bulkPathID(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx == -1 {
		return path
	}
	return path[idx+1:]
}

func bulkError(err error) map[string]interface{} {
	return map[string]interface{}{"detail": err.Error()}
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func strPtr(s string) *string { return &s }
