package model

import (
	"reflect"
	"testing"
)

func TestLineupClone(t *testing.T) {
	idx := 1
	orig := &Lineup{
		ID:           "a1",
		Title:        "Mid smoke",
		AbilityIndex: &idx,
		AgentPos:     &Point{Lat: 1, Lng: 2},
		SkillPos:     &Point{Lat: 3, Lng: 4},
	}

	c := orig.Clone()
	if !reflect.DeepEqual(c, orig) {
		t.Fatalf("копия отличается: %+v", c)
	}

	*c.AbilityIndex = 3
	c.AgentPos.Lat = 100
	c.SkillPos.Lng = 100
	c.Title = "changed"

	if *orig.AbilityIndex != 1 || orig.AgentPos.Lat != 1 || orig.SkillPos.Lng != 4 || orig.Title != "Mid smoke" {
		t.Errorf("изменение копии затронуло оригинал: %+v", orig)
	}
}

func TestLineupClone_NilPointers(t *testing.T) {
	c := (&Lineup{ID: "a2"}).Clone()
	if c.AbilityIndex != nil || c.AgentPos != nil || c.SkillPos != nil {
		t.Errorf("nil-поля должны оставаться nil: %+v", c)
	}
}
