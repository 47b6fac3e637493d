package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttributeRef(t *testing.T) {
	tests := []struct {
		value   string
		want    AttributeRef
		wantErr bool
	}{
		{value: "mail", want: AttributeRef{Attribute: "mail"}},
		{value: " mail ", want: AttributeRef{Attribute: "mail"}},
		{value: "cn=%username%,ou=hr|ou", want: AttributeRef{DNTemplate: "cn=%username%,ou=hr", Attribute: "ou"}},
		{value: "", wantErr: true},
		{value: "cn=x|", wantErr: true},
		{value: "|mail", wantErr: true},
		{value: "a|b|c", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseAttributeRef(tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMapping)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFieldMapping(t *testing.T) {
	mapping, err := ParseFieldMapping(map[string]string{
		"email":      "mail",
		"department": "cn=%username%,ou=hr,dc=example,dc=com|ou",
	})
	require.NoError(t, err)

	assert.Equal(t, FieldMapping{
		"email":      {Attribute: "mail"},
		"department": {DNTemplate: "cn=%username%,ou=hr,dc=example,dc=com", Attribute: "ou"},
	}, mapping)

	assert.Equal(t, map[string]string{
		"email":      "mail",
		"department": "cn=%username%,ou=hr,dc=example,dc=com|ou",
	}, mapping.Raw())

	_, err = ParseFieldMapping(map[string]string{"email": "a|b|c"})
	assert.ErrorIs(t, err, ErrInvalidMapping)

	_, err = ParseFieldMapping(map[string]string{" ": "mail"})
	assert.ErrorIs(t, err, ErrInvalidMapping)
}

func TestFieldMapping_Groups(t *testing.T) {
	mapping := FieldMapping{
		"email":      {Attribute: "mail"},
		"last_name":  {Attribute: "sn"},
		"department": {DNTemplate: "cn=%username%,ou=hr", Attribute: "ou"},
		"manager":    {DNTemplate: "uid=%username%,ou=people", Attribute: "manager"},
	}

	groups := mapping.Groups("uid=%username%,ou=people")

	assert.Equal(t, []MappingGroup{
		{
			DNTemplate: "cn=%username%,ou=hr",
			Fields:     []FieldRef{{Field: "department", Attribute: "ou"}},
		},
		{
			DNTemplate: "uid=%username%,ou=people",
			Fields: []FieldRef{
				{Field: "email", Attribute: "mail"},
				{Field: "last_name", Attribute: "sn"},
				{Field: "manager", Attribute: "manager"},
			},
		},
	}, groups)

	assert.Empty(t, FieldMapping(nil).Groups("uid=%username%"))
}

func TestProfile_ChangeTracking(t *testing.T) {
	p := LoadedProfile(3, 1, map[string]string{"email": "a@example.com", "city": "Paris"})
	assert.False(t, p.IsNew())
	assert.Empty(t, p.ChangedFields())

	p.Set("email", "b@example.com")
	p.Set("city", "Paris")
	p.Set("phone", "123")
	assert.True(t, p.Changed("email"))
	assert.False(t, p.Changed("city"))
	assert.Equal(t, []string{"email", "phone"}, p.ChangedFields())
	assert.Equal(t, "a@example.com", p.Original("email"))

	p.Revert("email")
	p.Revert("phone")
	assert.Empty(t, p.ChangedFields())

	p.Set("email", "c@example.com")
	p.MarkSaved(3)
	assert.Empty(t, p.ChangedFields())
	assert.Equal(t, "c@example.com", p.Original("email"))

	n := NewProfile(9)
	assert.True(t, n.IsNew())
	n.Set("email", "")
	assert.True(t, n.Changed("email"))
}
