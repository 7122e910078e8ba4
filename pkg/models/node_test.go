package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openeduhub/metaqs/pkg/apperrors"
)

const (
	portalID = "94f22c9b-0d3a-4c1c-8987-4c8e83f3a92e"
	rootID   = "5e40e372-735c-4b17-bbf7-e827a5702b57"
	childID  = "bd8be6d5-0fbe-4534-a4b3-773154ba6abc"
)

func source(t *testing.T, s string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func TestParseCollection(t *testing.T) {
	doc := source(t, `{
		"nodeRef": {"id": "`+childID+`"},
		"type": "ccm:map",
		"path": ["`+rootID+`", "`+portalID+`"],
		"properties": {
			"cm:title": "Mechanik",
			"cclom:general_keyword": ["Kraft", "", "Masse"],
			"cm:description": "   ",
			"ccm:educationalcontext": []
		}
	}`)

	c, err := ParseCollection(doc)
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse(childID), c.NodeRefID)
	require.NotNil(t, c.Title)
	assert.Equal(t, "Mechanik", *c.Title)
	assert.Equal(t, []string{"Kraft", "Masse"}, c.Keywords)
	assert.Nil(t, c.Description, "blank description normalizes to absent")
	assert.Nil(t, c.EduContext, "empty array normalizes to absent")

	parent, ok := c.ParentID()
	require.True(t, ok)
	assert.Equal(t, uuid.MustParse(portalID), parent)
}

func TestParseCollection_RootHasNoParent(t *testing.T) {
	c, err := ParseCollection(source(t, `{"nodeRef": {"id": "`+rootID+`"}}`))
	require.NoError(t, err)

	_, ok := c.ParentID()
	assert.False(t, ok)
	assert.Equal(t, "", c.DisplayTitle())
}

func TestParseCollection_MalformedID(t *testing.T) {
	_, err := ParseCollection(source(t, `{"nodeRef": {"id": "not-a-uuid"}}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrMalformedReference))

	_, err = ParseCollection(source(t, `{"type": "ccm:map"}`))
	assert.True(t, errors.Is(err, apperrors.ErrMalformedReference))
}

func TestParseMaterial(t *testing.T) {
	doc := source(t, `{
		"nodeRef": {"id": "`+childID+`"},
		"properties": {
			"cclom:title": "Hebelgesetz",
			"cclom:general_description": ["Teil eins", "Teil zwei"],
			"ccm:commonlicense_key": "",
			"ccm:taxonid": ["http://w3id.org/openeduhub/vocabs/discipline/460"],
			"ccm:educationallearningresourcetype": "video"
		},
		"collections": [
			{"nodeRef": {"id": "`+portalID+`"}, "path": ["`+rootID+`"]}
		]
	}`)

	m, err := ParseMaterial(doc)
	require.NoError(t, err)

	require.NotNil(t, m.Title)
	assert.Equal(t, "Hebelgesetz", *m.Title)
	require.NotNil(t, m.Description)
	assert.Equal(t, "Teil eins\nTeil zwei", *m.Description)
	assert.Nil(t, m.License)
	assert.Nil(t, m.Keywords)
	assert.Len(t, m.Subjects, 1)
	require.NotNil(t, m.MaterialType)
	assert.Equal(t, "video", *m.MaterialType)

	require.Len(t, m.Collections, 1)
	assert.Equal(t, uuid.MustParse(portalID), m.Collections[0].NodeRefID)
	assert.Equal(t, []uuid.UUID{uuid.MustParse(rootID)}, m.Collections[0].Path)
}

func TestTreeInputFromCollection(t *testing.T) {
	title := "Physik"
	c := Collection{
		Node:  Node{NodeRefID: uuid.MustParse(portalID), Path: []uuid.UUID{uuid.MustParse(rootID)}},
		Title: &title,
	}

	in := TreeInputFromCollection(c)
	assert.Equal(t, uuid.MustParse(portalID), in.ID)
	assert.Equal(t, uuid.MustParse(rootID), in.ParentID)
	assert.True(t, in.HasParent)
	assert.Equal(t, "Physik", in.Title)
}
