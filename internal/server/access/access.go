// Package access решает, может ли пользователь синхронизировать комнаты.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"

	"github.com/iudanet/roomsync/internal/validation"
)

// ErrDenied возвращается, если хотя бы одна комната запрещена
var ErrDenied = errors.New("access denied")

// Роли пользователей
const (
	RoleSubscriber = "subscriber"
	RoleEditor     = "editor"
	RoleAdmin      = "admin"
)

// IsRole сообщает, известна ли роль встроенной политике
func IsRole(role string) bool {
	switch role {
	case RoleSubscriber, RoleEditor, RoleAdmin:
		return true
	}
	return false
}

// Действия над комнатой
const (
	ActCollection = "collection"
	ActObject     = "object"
)

// userPrefix префикс субъекта для политик отдельного пользователя
const userPrefix = "user:"

// rbacModel RBAC модель: роль или пользователь, ключ комнаты с keyMatch, действие
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && r.act == p.act
`

// defaultPolicies встроенная политика.
// Коллекции только сигнализируют об изменениях и не несут данных объектов,
// поэтому подписчику доступен лишь фиксированный список типов.
var defaultPolicies = [][]string{
	{RoleSubscriber, "postType/*", ActCollection},
	{RoleSubscriber, "root/*", ActCollection},
	{RoleSubscriber, "taxonomy/*", ActCollection},
	{RoleEditor, "*", ActObject},
	{RoleAdmin, "*", ActCollection},
}

var defaultGroupings = [][]string{
	{RoleEditor, RoleSubscriber},
	{RoleAdmin, RoleEditor},
}

// Principal аутентифицированный пользователь запроса
type Principal struct {
	UserID   string
	Username string
	Role     string
}

// Authorizer проверяет доступ к набору комнат
type Authorizer interface {
	Authorize(ctx context.Context, principal Principal, rooms []validation.RoomKey) error
}

// Enforcer реализация Authorizer поверх casbin
type Enforcer struct {
	casbin *casbin.SyncedCachedEnforcer
	logger *slog.Logger
}

// NewEnforcer создает enforcer со встроенной политикой.
// policyPath опционален: CSV файл с дополнительными строками p/g
// (например "p, user:alice, doc/*, collection" или "g, user:bob, editor").
func NewEnforcer(policyPath string, logger *slog.Logger) (*Enforcer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rbac model: %w", err)
	}

	params := []interface{}{m}
	if policyPath != "" {
		params = append(params, fileadapter.NewAdapter(policyPath))
	}

	e, err := casbin.NewSyncedCachedEnforcer(params...)
	if err != nil {
		return nil, fmt.Errorf("failed to create enforcer: %w", err)
	}

	// Встроенные правила живут только в памяти и не пишутся в CSV файл
	e.EnableAutoSave(false)

	for _, rule := range defaultPolicies {
		if _, err := e.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
			return nil, fmt.Errorf("failed to add policy %v: %w", rule, err)
		}
	}
	for _, rule := range defaultGroupings {
		if _, err := e.AddGroupingPolicy(rule[0], rule[1]); err != nil {
			return nil, fmt.Errorf("failed to add grouping %v: %w", rule, err)
		}
	}

	if err := e.InvalidateCache(); err != nil {
		return nil, fmt.Errorf("failed to invalidate cache: %w", err)
	}

	return &Enforcer{casbin: e, logger: logger}, nil
}

// Authorize возвращает ErrDenied, если хотя бы одна комната недоступна.
// Доступ дает роль пользователя или персональная политика user:<username>.
func (e *Enforcer) Authorize(ctx context.Context, principal Principal, rooms []validation.RoomKey) error {
	for _, room := range rooms {
		obj := room.String()
		act := Act(room)

		allowed, err := e.enforce(principal, obj, act)
		if err != nil {
			return fmt.Errorf("failed to enforce policy: %w", err)
		}

		if !allowed {
			e.logger.Warn("Room access denied",
				"user_id", principal.UserID,
				"username", principal.Username,
				"role", principal.Role,
				"room", obj,
			)
			return fmt.Errorf("%w: %s", ErrDenied, obj)
		}
	}

	return nil
}

func (e *Enforcer) enforce(principal Principal, obj, act string) (bool, error) {
	if principal.Role != "" {
		ok, err := e.casbin.Enforce(principal.Role, obj, act)
		if err != nil || ok {
			return ok, err
		}
	}

	if principal.Username != "" {
		return e.casbin.Enforce(userPrefix+principal.Username, obj, act)
	}

	return false, nil
}

// Act действие, которое требуется для комнаты
func Act(room validation.RoomKey) string {
	if room.IsCollection() {
		return ActCollection
	}
	return ActObject
}

// AllowAll разрешает любые комнаты. Для локальной разработки и тестов.
type AllowAll struct{}

// Authorize всегда возвращает nil
func (AllowAll) Authorize(ctx context.Context, principal Principal, rooms []validation.RoomKey) error {
	return nil
}
