package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/lineup-exporter/internal/domain/model"
)

// lineupColumns — список столбцов для SELECT-запросов.
// Текстовые столбцы через COALESCE: NULL читается как пустая строка.
const lineupColumns = `id::text, COALESCE(user_id::text, ''), COALESCE(title, ''),
	COALESCE(map_name, ''), COALESCE(agent_name, ''), COALESCE(agent_icon, ''),
	COALESCE(skill_icon, ''), COALESCE(side, ''), ability_index, agent_pos, skill_pos,
	COALESCE(stand_img, ''), COALESCE(stand_desc, ''), COALESCE(stand2_img, ''), COALESCE(stand2_desc, ''),
	COALESCE(aim_img, ''), COALESCE(aim_desc, ''), COALESCE(aim2_img, ''), COALESCE(aim2_desc, ''),
	COALESCE(land_img, ''), COALESCE(land_desc, ''),
	COALESCE(source_link, ''), COALESCE(author_name, ''), COALESCE(author_avatar, ''),
	COALESCE(author_uid, ''), COALESCE(cloned_from::text, ''),
	created_at, updated_at`

// LineupRepository — интерфейс чтения lineup из личной и общей библиотек.
type LineupRepository interface {
	// GetByID возвращает lineup по UUID из указанной библиотеки или ErrNotFound.
	GetByID(ctx context.Context, source model.Source, id string) (*model.Lineup, error)
}

// lineupRepo — реализация LineupRepository через pgx.
type lineupRepo struct {
	db DBTX
}

// NewLineupRepository создаёт репозиторий lineup.
func NewLineupRepository(db DBTX) LineupRepository {
	return &lineupRepo{db: db}
}

// GetByID возвращает lineup по UUID или ErrNotFound.
// Некорректный UUID также даёт ErrNotFound (запрос в БД не выполняется).
func (r *lineupRepo) GetByID(ctx context.Context, source model.Source, id string) (*model.Lineup, error) {
	table, err := tableFor(source)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, lineupColumns, table)

	l := &model.Lineup{}
	var abilityIndex *int16
	// Во внешних схемах (Supabase) created_at/updated_at могут быть NULL
	var createdAt, updatedAt *time.Time
	err = r.db.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.UserID, &l.Title,
		&l.MapName, &l.AgentName, &l.AgentIcon,
		&l.SkillIcon, &l.Side, &abilityIndex, &l.AgentPos, &l.SkillPos,
		&l.StandImg, &l.StandDesc, &l.Stand2Img, &l.Stand2Desc,
		&l.AimImg, &l.AimDesc, &l.Aim2Img, &l.Aim2Desc,
		&l.LandImg, &l.LandDesc,
		&l.SourceLink, &l.AuthorName, &l.AuthorAvatar,
		&l.AuthorUID, &l.ClonedFrom,
		&createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения lineup из %s: %w", table, err)
	}

	if abilityIndex != nil {
		v := int(*abilityIndex)
		l.AbilityIndex = &v
	}
	l.CreatedAt = formatTimestamp(createdAt)
	l.UpdatedAt = formatTimestamp(updatedAt)

	return l, nil
}

// tableFor возвращает имя таблицы для библиотеки (whitelist).
func tableFor(source model.Source) (string, error) {
	switch source {
	case model.SourcePersonal:
		return "lineups", nil
	case model.SourceShared:
		return "shared_lineups", nil
	default:
		return "", fmt.Errorf("неизвестная библиотека lineup: %q", source)
	}
}

// formatTimestamp форматирует timestamptz в ISO-8601 (UTC); NULL или нулевое время — пустая строка.
func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
