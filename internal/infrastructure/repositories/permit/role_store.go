package permit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rolechat/internal/core/domain"
	"rolechat/internal/core/ports"
	"rolechat/pkg/tracing"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	DefaultAPIURL = "https://api.permit.io"
	listPageSize  = 100
	maxListPages  = 1000
)

type Config struct {
	APIURL      string
	PDPURL      string
	APIKey      string
	Project     string
	Environment string
	Tenant      string
	Timeout     time.Duration
}

// RoleStore talks to a Permit.io compatible authorization service: the
// facts API for users, roles and resource instances, and the PDP for policy
// checks. It implements ports.Authorizer.
type RoleStore struct {
	cfg    Config
	facts  string
	http   *http.Client
	logger *zap.SugaredLogger
}

var _ ports.Authorizer = (*RoleStore)(nil)

func NewRoleStore(cfg Config, logger *zap.SugaredLogger) (*RoleStore, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("permit: api key is required")
	}
	if strings.TrimSpace(cfg.PDPURL) == "" {
		return nil, fmt.Errorf("permit: pdp url is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Project == "" {
		cfg.Project = "default"
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.Tenant == "" {
		cfg.Tenant = domain.DefaultTenant
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &RoleStore{
		cfg: cfg,
		facts: fmt.Sprintf("%s/v2/facts/%s/%s",
			strings.TrimRight(cfg.APIURL, "/"),
			url.PathEscape(cfg.Project),
			url.PathEscape(cfg.Environment),
		),
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger,
	}, nil
}

type userRead struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	CreatedAt time.Time `json:"created_at"`
}

func (u userRead) toDomain() *domain.User {
	return &domain.User{
		ID:        u.ID,
		Key:       u.Key,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
	}
}

type userList struct {
	Data       []userRead `json:"data"`
	TotalCount int        `json:"total_count"`
	PageCount  int        `json:"page_count"`
}

type roleAssignmentRead struct {
	User             string `json:"user"`
	Role             string `json:"role"`
	Tenant           string `json:"tenant"`
	ResourceInstance string `json:"resource_instance"`
}

type roleAssignmentWrite struct {
	Role             string `json:"role"`
	Tenant           string `json:"tenant"`
	ResourceInstance string `json:"resource_instance,omitempty"`
}

type resourceInstanceRead struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	Resource string `json:"resource"`
	Tenant   string `json:"tenant"`
}

type checkRequest struct {
	User     map[string]string `json:"user"`
	Action   string            `json:"action"`
	Resource map[string]string `json:"resource"`
}

type checkResponse struct {
	Allow bool `json:"allow"`
}

func (s *RoleStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	for page := 1; ; page++ {
		var list userList
		path := fmt.Sprintf("/users?page=%d&per_page=%d", page, listPageSize)
		if err := s.do(ctx, "list_users", http.MethodGet, s.facts+path, nil, &list); err != nil {
			return nil, err
		}
		for _, u := range list.Data {
			users = append(users, u.toDomain())
		}
		if list.PageCount <= page || len(list.Data) == 0 {
			return users, nil
		}
	}
}

func (s *RoleStore) GetUser(ctx context.Context, key string) (*domain.User, error) {
	var u userRead
	if err := s.do(ctx, "get_user", http.MethodGet, s.facts+"/users/"+url.PathEscape(key), nil, &u); err != nil {
		return nil, err
	}
	return u.toDomain(), nil
}

func (s *RoleStore) SyncUser(ctx context.Context, profile domain.UserProfile) (*domain.User, error) {
	body := map[string]interface{}{
		"key":        profile.Key,
		"email":      profile.Email,
		"first_name": profile.FirstName,
		"last_name":  profile.LastName,
		"attributes": map[string]interface{}{},
	}
	var u userRead
	if err := s.do(ctx, "sync_user", http.MethodPut, s.facts+"/users/"+url.PathEscape(profile.Key), body, &u); err != nil {
		return nil, err
	}
	return u.toDomain(), nil
}

func (s *RoleStore) GetAssignedRoles(ctx context.Context, userKey string) ([]domain.RoleAssignment, error) {
	q := url.Values{}
	q.Set("user", userKey)

	rows, err := listPages[roleAssignmentRead](ctx, s, "get_assigned_roles", s.facts+"/role_assignments", q)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RoleAssignment, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RoleAssignment{
			User:             userKey,
			Role:             domain.RoleName(r.Role),
			Tenant:           r.Tenant,
			ResourceInstance: r.ResourceInstance,
		})
	}
	return out, nil
}

func (s *RoleStore) AssignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	body := roleAssignmentWrite{Role: string(role), Tenant: s.cfg.Tenant, ResourceInstance: resourceInstance}
	err := s.do(ctx, "assign_role", http.MethodPost, s.facts+"/users/"+url.PathEscape(userKey)+"/roles", body, nil)
	if isConflict(err) {
		return nil
	}
	return err
}

func (s *RoleStore) UnassignRole(ctx context.Context, userKey string, role domain.RoleName, resourceInstance string) error {
	body := roleAssignmentWrite{Role: string(role), Tenant: s.cfg.Tenant, ResourceInstance: resourceInstance}
	err := s.do(ctx, "unassign_role", http.MethodDelete, s.facts+"/users/"+url.PathEscape(userKey)+"/roles", body, nil)
	if isMissingAssignment(err) {
		return nil
	}
	return err
}

func (s *RoleStore) ListResourceInstances(ctx context.Context) ([]domain.ResourceInstance, error) {
	rows, err := listPages[resourceInstanceRead](ctx, s, "list_resource_instances", s.facts+"/resource_instances", url.Values{})
	if err != nil {
		return nil, err
	}

	out := make([]domain.ResourceInstance, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ResourceInstance{ID: r.ID, Key: r.Key, Resource: r.Resource, Tenant: r.Tenant})
	}
	return out, nil
}

// listPages reads a bare-array listing page by page until a short page.
func listPages[T any](ctx context.Context, s *RoleStore, op, endpoint string, q url.Values) ([]T, error) {
	var all []T
	for page := 1; page <= maxListPages; page++ {
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(listPageSize))

		var rows []T
		if err := s.do(ctx, op, http.MethodGet, endpoint+"?"+q.Encode(), nil, &rows); err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < listPageSize {
			return all, nil
		}
	}
	return nil, fmt.Errorf("permit %s: %w: more than %d pages", op, domain.ErrUpstream, maxListPages)
}

func (s *RoleStore) Check(ctx context.Context, userKey, action, resourceType string) (bool, error) {
	req := checkRequest{
		User:     map[string]string{"key": userKey},
		Action:   action,
		Resource: map[string]string{"type": resourceType, "tenant": s.cfg.Tenant},
	}
	var resp checkResponse
	endpoint := strings.TrimRight(s.cfg.PDPURL, "/") + "/allowed"
	if err := s.do(ctx, "check", http.MethodPost, endpoint, req, &resp); err != nil {
		return false, err
	}
	return resp.Allow, nil
}

// statusError is a non-2xx response from the authorization service.
type statusError struct {
	Op     string
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("permit %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *statusError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		if e.Op == "get_user" {
			return domain.ErrUserNotFound
		}
		return domain.ErrResourceNotFound
	case http.StatusForbidden:
		return domain.ErrPermissionDenied
	default:
		return domain.ErrUpstream
	}
}

func isConflict(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == http.StatusConflict
}

func isMissingAssignment(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound && strings.Contains(strings.ToLower(se.Body), "assignment")
}

func (s *RoleStore) do(ctx context.Context, op, method, endpoint string, in, out interface{}) error {
	ctx, span := tracing.TraceAuthzCall(ctx, op)
	defer span.End()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("permit %s: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("permit %s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("permit %s: %w: %v", op, domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		serr := &statusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		if resp.StatusCode >= 500 {
			tracing.RecordError(ctx, serr)
			s.logger.Warnw("Authorization service error", "op", op, "status", resp.StatusCode)
		}
		return serr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("permit %s: decode response: %w", op, err)
	}
	return nil
}
