package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go-dashboard/internal/models"
	"go-dashboard/internal/rbac"

	"gorm.io/gorm"
)

// TeamRepository data access for team membership and the permission maps
// behind the RBAC gate
type TeamRepository interface {
	ListMembers(ctx context.Context, accountAddress string) ([]*models.TeamMember, error)
	GetMember(ctx context.Context, accountAddress, memberAddress string) (*models.TeamMember, error)
	UpsertMember(ctx context.Context, member *models.TeamMember) error
	RemoveMember(ctx context.Context, accountAddress, memberAddress string) error

	// ResolveSettings builds the actor's rbac.Settings for an account:
	// owner bypass when actor == account, otherwise the stored permission map,
	// nil (fail closed) when the actor is no member at all.
	ResolveSettings(ctx context.Context, accountAddress, actorAddress string) (*rbac.Settings, error)
}

type teamRepository struct {
	db *gorm.DB
}

// NewTeamRepository creates a TeamRepository instance.
func NewTeamRepository(db *gorm.DB) TeamRepository {
	return &teamRepository{db: db}
}

func (r *teamRepository) ListMembers(ctx context.Context, accountAddress string) ([]*models.TeamMember, error) {
	var members []*models.TeamMember
	err := r.db.WithContext(ctx).
		Where("account_address = ?", strings.ToLower(accountAddress)).
		Order("created_at asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *teamRepository) GetMember(ctx context.Context, accountAddress, memberAddress string) (*models.TeamMember, error) {
	var member models.TeamMember
	err := r.db.WithContext(ctx).
		Where("account_address = ? AND member_address = ?",
			strings.ToLower(accountAddress), strings.ToLower(memberAddress)).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *teamRepository) UpsertMember(ctx context.Context, member *models.TeamMember) error {
	member.AccountAddress = strings.ToLower(member.AccountAddress)
	member.MemberAddress = strings.ToLower(member.MemberAddress)

	existing, err := r.GetMember(ctx, member.AccountAddress, member.MemberAddress)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.WithContext(ctx).Create(member).Error
	}
	if err != nil {
		return err
	}

	existing.Name = member.Name
	existing.Permissions = member.Permissions
	return r.db.WithContext(ctx).Save(existing).Error
}

func (r *teamRepository) RemoveMember(ctx context.Context, accountAddress, memberAddress string) error {
	return r.db.WithContext(ctx).
		Where("account_address = ? AND member_address = ?",
			strings.ToLower(accountAddress), strings.ToLower(memberAddress)).
		Delete(&models.TeamMember{}).Error
}

func (r *teamRepository) ResolveSettings(ctx context.Context, accountAddress, actorAddress string) (*rbac.Settings, error) {
	account := strings.ToLower(accountAddress)
	actor := strings.ToLower(actorAddress)

	if account == actor {
		return &rbac.Settings{IsOwner: true, OwnerAddress: account}, nil
	}

	member, err := r.GetMember(ctx, account, actor)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// Not a member: nil settings fail closed at the gate.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	permissions, err := DecodePermissions(member.Permissions)
	if err != nil {
		return nil, fmt.Errorf("corrupt permission map for %s on %s: %w", actor, account, err)
	}

	return &rbac.Settings{
		IsOwner:      false,
		OwnerAddress: account,
		Permissions:  permissions,
	}, nil
}

// DecodePermissions parses the stored JSON permission object. Unknown level
// names fail closed to Disable via rbac.ParsePermission.
func DecodePermissions(raw string) (map[rbac.PermissionKey]rbac.Permission, error) {
	if raw == "" {
		return map[rbac.PermissionKey]rbac.Permission{}, nil
	}
	var object map[string]string
	if err := json.Unmarshal([]byte(raw), &object); err != nil {
		return nil, err
	}
	permissions := make(map[rbac.PermissionKey]rbac.Permission, len(object))
	for key, level := range object {
		permissions[rbac.PermissionKey(key)] = rbac.ParsePermission(level)
	}
	return permissions, nil
}

// EncodePermissions serializes a permission map for storage.
func EncodePermissions(permissions map[rbac.PermissionKey]rbac.Permission) (string, error) {
	object := make(map[string]string, len(permissions))
	for key, level := range permissions {
		object[string(key)] = level.String()
	}
	raw, err := json.Marshal(object)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
