package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"campuscart/chat-service/internal/apperr"
	"campuscart/chat-service/internal/models"
)

// UserDirectory resolves marketplace users to their public profile. The
// chat service only reads it; accounts are owned by the marketplace.
type UserDirectory interface {
	GetProfile(ctx context.Context, userID string) (*models.UserProfile, error)
	SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*models.UserProfile, error)
}

type userDirectory struct {
	db *sql.DB
}

func NewUserDirectory(db *sql.DB) UserDirectory {
	return &userDirectory{db: db}
}

func newID() string {
	return uuid.New().String()
}

func (d *userDirectory) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	query := `SELECT id, name, email, avatar, stream FROM chat_users WHERE id = $1`

	var p models.UserProfile
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&p.ID, &p.Name, &p.Email, &p.Avatar, &p.Stream)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.NotFound("user not found")
		}
		return nil, storageErr("get profile", err)
	}
	return &p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (d *userDirectory) SearchUsers(ctx context.Context, query, excludeID string, limit int) ([]*models.UserProfile, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"

	rows, err := d.db.QueryContext(ctx, `
	SELECT id, name, email, avatar, stream
	FROM chat_users
	WHERE id <> $2 AND (name ILIKE $1 OR email ILIKE $1)
	ORDER BY name ASC, id ASC
	LIMIT $3
	`, pattern, excludeID, limit)
	if err != nil {
		return nil, storageErr("search users", err)
	}
	defer rows.Close()

	users := []*models.UserProfile{}
	for rows.Next() {
		var p models.UserProfile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Avatar, &p.Stream); err != nil {
			return nil, storageErr("scan user", err)
		}
		users = append(users, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("search users", err)
	}
	return users, nil
}
