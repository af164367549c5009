package mixin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParametersDeclared(t *testing.T) {
	var p Params
	names := make([]string, len(Parameters))
	for i, d := range Parameters {
		names[i] = d.Name
		assert.NotEmpty(t, d.Description, d.Name)
		_, err := p.Get(d.Name)
		assert.NoError(t, err, "declared parameter %v can't be read", d.Name)
	}
	assert.Equal(t, []string{"host", "port", "smtp_login", "smtp_user", "smtp_password"}, names)
}

func TestParamsSetGet(t *testing.T) {
	testCases := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{name: "host", value: "mail.example.com"},
		{name: "port", value: "587"},
		{name: "port", value: ""},
		{name: "port", value: "smtp", wantErr: true},
		{name: "port", value: "-1", wantErr: true},
		{name: "smtp_login", value: "cram_md5"},
		{name: "smtp_user", value: "alice"},
		{name: "smtp_password", value: "s3cret=="},
		{name: "smtp_helo", value: "x", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name+"="+tc.value, func(t *testing.T) {
			var p Params
			err := p.Set(tc.name, tc.value)
			if (err != nil) != tc.wantErr {
				t.Fatalf("wantErr = %v but got %v", tc.wantErr, err)
			}
			if tc.wantErr {
				return
			}
			v, err := p.Get(tc.name)
			require.NoError(t, err)
			assert.Equal(t, tc.value, v)
		})
	}
}

func TestParamsSetPair(t *testing.T) {
	var p Params
	require.NoError(t, p.SetPair("smtp_password=a=b"))
	require.NoError(t, p.SetPair("port=2525"))
	assert.Equal(t, Params{Port: 2525, Password: "a=b"}, p)

	assert.Error(t, p.SetPair("host"))
	assert.True(t, errors.Is(p.SetPair("nope=1"), ErrUnknownParameter))
}
