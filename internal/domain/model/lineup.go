// Пакет model — доменные модели Lineup Exporter.
// Lineup — маппинг таблиц lineups / shared_lineups (owned by приложение на Supabase).
package model

// Стороны атаки/защиты.
const (
	SideAttack  = "attack"
	SideDefense = "defense"
)

// Source — библиотека, из которой читается lineup.
type Source string

const (
	// SourcePersonal — личная библиотека пользователя (таблица lineups).
	SourcePersonal Source = "personal"
	// SourceShared — публичная общая библиотека (таблица shared_lineups).
	SourceShared Source = "shared"
)

// Point — координаты отметки на карте.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Lineup — сохранённый lineup (точка стояния, прицел, место приземления способности).
// Текстовые поля: пустая строка означает «значение отсутствует».
// JSON-теги совпадают с именами столбцов в БД (snake_case).
type Lineup struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	// MapName — английский ключ карты (Ascent, Bind, ...)
	MapName   string `json:"map_name"`
	AgentName string `json:"agent_name"`
	AgentIcon string `json:"agent_icon"`
	SkillIcon string `json:"skill_icon"`
	// Side — attack или defense
	Side string `json:"side"`
	// AbilityIndex — слот способности 0..3 (C, Q, E, X); nil — неизвестно
	AbilityIndex *int   `json:"ability_index"`
	AgentPos     *Point `json:"agent_pos"`
	SkillPos     *Point `json:"skill_pos"`

	StandImg   string `json:"stand_img"`
	StandDesc  string `json:"stand_desc"`
	Stand2Img  string `json:"stand2_img"`
	Stand2Desc string `json:"stand2_desc"`
	AimImg     string `json:"aim_img"`
	AimDesc    string `json:"aim_desc"`
	Aim2Img    string `json:"aim2_img"`
	Aim2Desc   string `json:"aim2_desc"`
	LandImg    string `json:"land_img"`
	LandDesc   string `json:"land_desc"`

	SourceLink   string `json:"source_link"`
	AuthorName   string `json:"author_name"`
	AuthorAvatar string `json:"author_avatar"`
	AuthorUID    string `json:"author_uid"`
	ClonedFrom   string `json:"cloned_from"`

	// CreatedAt, UpdatedAt — ISO-8601, переносятся в экспорт как есть
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Clone возвращает глубокую копию lineup (указатели не разделяются).
func (l *Lineup) Clone() *Lineup {
	c := *l
	if l.AbilityIndex != nil {
		v := *l.AbilityIndex
		c.AbilityIndex = &v
	}
	if l.AgentPos != nil {
		p := *l.AgentPos
		c.AgentPos = &p
	}
	if l.SkillPos != nil {
		p := *l.SkillPos
		c.SkillPos = &p
	}
	return &c
}
