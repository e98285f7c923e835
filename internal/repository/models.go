package repository

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// RemoteIDPrefix marks users and groups whose lifecycle is owned by the directory.
const RemoteIDPrefix = "ActiveDirectory:"

// LocalUser is an account in the local user repository.
//
// Directory-managed users carry a RemoteID of RemoteIDPrefix followed by
// the directory external identifier. Native users have a nil RemoteID.
type LocalUser struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Login        string    `gorm:"uniqueIndex;not null;size:255" json:"login"`
	RemoteID     *string   `gorm:"uniqueIndex;size:512" json:"remote_id,omitempty"`
	Email        string    `gorm:"size:255" json:"email,omitempty"`
	FirstName    string    `gorm:"size:255" json:"first_name,omitempty"`
	LastName     string    `gorm:"size:255" json:"last_name,omitempty"`
	Language     string    `gorm:"size:16" json:"language,omitempty"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedBy    string    `gorm:"size:255" json:"created_by,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Groups []LocalGroup `gorm:"many2many:user_groups;" json:"groups,omitempty"`
}

// TableName returns the table name for LocalUser.
func (LocalUser) TableName() string {
	return "local_users"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (u *LocalUser) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// IsDirectoryManaged reports whether the account is owned by the directory.
func (u *LocalUser) IsDirectoryManaged() bool {
	return u.RemoteID != nil && strings.HasPrefix(*u.RemoteID, RemoteIDPrefix)
}

// VerifyPassword checks a plaintext password against the stored bcrypt hash.
func (u *LocalUser) VerifyPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// CredentialFingerprint identifies the current password hash without exposing it.
// It changes whenever the stored credential changes.
func (u *LocalUser) CredentialFingerprint() string {
	sum := sha256.Sum256([]byte(u.PasswordHash))
	return hex.EncodeToString(sum[:])
}

// LocalGroup is a user group in the local repository.
type LocalGroup struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	RemoteID  *string   `gorm:"uniqueIndex;size:1024" json:"remote_id,omitempty"`
	Name      string    `gorm:"not null;size:255;index" json:"name"`
	Container string    `gorm:"size:255;index" json:"container,omitempty"`
	CreatedBy string    `gorm:"size:255" json:"created_by,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for LocalGroup.
func (LocalGroup) TableName() string {
	return "local_groups"
}

// BeforeCreate assigns a UUID primary key when none is set.
func (g *LocalGroup) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	return nil
}

// IsDirectoryManaged reports whether the group mirrors a directory group.
func (g *LocalGroup) IsDirectoryManaged() bool {
	return g.RemoteID != nil && strings.HasPrefix(*g.RemoteID, RemoteIDPrefix)
}

// UserGroup is the membership join row between local users and groups.
type UserGroup struct {
	LocalUserID  string `gorm:"primaryKey;size:36"`
	LocalGroupID string `gorm:"primaryKey;size:36"`
}

// TableName returns the table name for UserGroup.
func (UserGroup) TableName() string {
	return "user_groups"
}

// AllModels returns the models managed by AutoMigrate.
func AllModels() []any {
	return []any{
		&LocalUser{},
		&LocalGroup{},
		&UserGroup{},
	}
}

// RemoteID builds a prefixed remote identifier.
func RemoteID(externalID string) string {
	return RemoteIDPrefix + externalID
}

// HashPassword returns the bcrypt hash of a plaintext password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
