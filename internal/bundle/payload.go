package bundle

import (
	"github.com/bigkaa/lineup-exporter/internal/domain/model"
)

// Payload — JSON-снимок lineup внутри архива.
// Набор ключей фиксирован: отсутствующие значения сериализуются как null.
type Payload struct {
	ID           *string      `json:"id"`
	UserID       *string      `json:"user_id"`
	Title        *string      `json:"title"`
	MapName      *string      `json:"map_name"`
	AgentName    *string      `json:"agent_name"`
	AgentIcon    *string      `json:"agent_icon"`
	SkillIcon    *string      `json:"skill_icon"`
	Side         *string      `json:"side"`
	AbilityIndex *int         `json:"ability_index"`
	AgentPos     *model.Point `json:"agent_pos"`
	SkillPos     *model.Point `json:"skill_pos"`

	StandImg   *string `json:"stand_img"`
	StandDesc  *string `json:"stand_desc"`
	Stand2Img  *string `json:"stand2_img"`
	Stand2Desc *string `json:"stand2_desc"`
	AimImg     *string `json:"aim_img"`
	AimDesc    *string `json:"aim_desc"`
	Aim2Img    *string `json:"aim2_img"`
	Aim2Desc   *string `json:"aim2_desc"`
	LandImg    *string `json:"land_img"`
	LandDesc   *string `json:"land_desc"`

	SourceLink   *string `json:"source_link"`
	AuthorName   *string `json:"author_name"`
	AuthorAvatar *string `json:"author_avatar"`
	AuthorUID    *string `json:"author_uid"`
	ClonedFrom   *string `json:"cloned_from"`

	CreatedAt *string `json:"created_at"`
	UpdatedAt *string `json:"updated_at"`
}

// ShapePayload строит JSON-снимок lineup.
// written — успешно записанные в архив слоты: ключ слота → путь внутри архива.
// Для слотов, которых нет в written, сохраняется исходный URL.
// Исходный lineup не изменяется.
func ShapePayload(l *model.Lineup, written map[string]string) *Payload {
	p := &Payload{
		ID:        nullable(l.ID),
		UserID:    nullable(l.UserID),
		Title:     nullable(l.Title),
		MapName:   nullable(l.MapName),
		AgentName: nullable(l.AgentName),
		AgentIcon: nullable(l.AgentIcon),
		SkillIcon: nullable(l.SkillIcon),
		Side:      nullable(l.Side),

		StandDesc:  nullable(l.StandDesc),
		Stand2Desc: nullable(l.Stand2Desc),
		AimDesc:    nullable(l.AimDesc),
		Aim2Desc:   nullable(l.Aim2Desc),
		LandDesc:   nullable(l.LandDesc),

		SourceLink:   nullable(l.SourceLink),
		AuthorName:   nullable(l.AuthorName),
		AuthorAvatar: nullable(l.AuthorAvatar),
		AuthorUID:    nullable(l.AuthorUID),
		ClonedFrom:   nullable(l.ClonedFrom),

		CreatedAt: nullable(l.CreatedAt),
		UpdatedAt: nullable(l.UpdatedAt),
	}

	if l.AbilityIndex != nil {
		v := *l.AbilityIndex
		p.AbilityIndex = &v
	}
	if l.AgentPos != nil {
		v := *l.AgentPos
		p.AgentPos = &v
	}
	if l.SkillPos != nil {
		v := *l.SkillPos
		p.SkillPos = &v
	}

	for _, slot := range Slots {
		value := slot.URL(l)
		if archivePath, ok := written[slot.Key]; ok {
			value = archivePath
		}
		*p.imageField(slot.Key) = nullable(value)
	}

	return p
}

// imageField возвращает поле изображения по ключу слота; nil для неизвестного ключа.
func (p *Payload) imageField(key string) **string {
	switch key {
	case "stand_img":
		return &p.StandImg
	case "stand2_img":
		return &p.Stand2Img
	case "aim_img":
		return &p.AimImg
	case "aim2_img":
		return &p.Aim2Img
	case "land_img":
		return &p.LandImg
	default:
		return nil
	}
}

// nullable возвращает nil для пустой строки.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
