package repository

import (
	"context"
	"fmt"

	"github.com/stwalsh4118/homefinder/api/internal/database"
	"github.com/stwalsh4118/homefinder/api/internal/models"
)

// FavoriteRepository defines data access for saved properties.
type FavoriteRepository interface {
	// ListFavorites returns the subject's favorites, most recent first.
	// Returns an empty slice if the subject has none.
	ListFavorites(ctx context.Context, subject string) ([]models.Favorite, error)

	// AddFavorite saves propertyID for subject. Adding an existing favorite
	// is not an error.
	AddFavorite(ctx context.Context, subject string, propertyID int) error

	// RemoveFavorite deletes propertyID for subject. Removing an absent
	// favorite is not an error.
	RemoveFavorite(ctx context.Context, subject string, propertyID int) error
}

// favoriteRepository is the pgx implementation of FavoriteRepository.
type favoriteRepository struct {
	db *database.Database
}

// NewFavoriteRepository creates a new instance of FavoriteRepository.
func NewFavoriteRepository(db *database.Database) FavoriteRepository {
	return &favoriteRepository{db: db}
}

func (r *favoriteRepository) ListFavorites(ctx context.Context, subject string) ([]models.Favorite, error) {
	query := `
		SELECT subject_id, property_id, created_at
		FROM tenant_favorites
		WHERE subject_id = $1
		ORDER BY created_at DESC, property_id
	`

	rows, err := r.db.Pool.Query(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites for %s: %w", subject, err)
	}
	defer rows.Close()

	favorites := []models.Favorite{}
	for rows.Next() {
		var f models.Favorite
		if err := rows.Scan(&f.SubjectID, &f.PropertyID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan favorite row: %w", err)
		}
		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating favorite rows: %w", err)
	}

	return favorites, nil
}

func (r *favoriteRepository) AddFavorite(ctx context.Context, subject string, propertyID int) error {
	query := `
		INSERT INTO tenant_favorites (subject_id, property_id)
		VALUES ($1, $2)
		ON CONFLICT (subject_id, property_id) DO NOTHING
	`

	if _, err := r.db.Pool.Exec(ctx, query, subject, propertyID); err != nil {
		return fmt.Errorf("failed to add favorite %d for %s: %w", propertyID, subject, err)
	}
	return nil
}

func (r *favoriteRepository) RemoveFavorite(ctx context.Context, subject string, propertyID int) error {
	query := `DELETE FROM tenant_favorites WHERE subject_id = $1 AND property_id = $2`

	if _, err := r.db.Pool.Exec(ctx, query, subject, propertyID); err != nil {
		return fmt.Errorf("failed to remove favorite %d for %s: %w", propertyID, subject, err)
	}
	return nil
}
