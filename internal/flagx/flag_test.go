package flagx

import (
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "conf.json", "-a", "localhost"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "conf.json"},
		},
		{
			name:         "equals form",
			args:         []string{"-config=alt.json", "-a", "localhost"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-config=alt.json"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "flag followed by another flag keeps no value",
			args:         []string{"-k", "-t", "2"},
			allowedFlags: []string{"-k", "-t"},
			want:         []string{"-k", "-t", "2"},
		},
		{
			name:         "multi-letter flags",
			args:         []string{"-private-key", "/keys/p.pem", "-burst", "5", "-a", ":1"},
			allowedFlags: []string{"-private-key", "-burst"},
			want:         []string{"-private-key", "/keys/p.pem", "-burst", "5"},
		},
		{
			name:         "repeated allowed flag is preserved in order",
			args:         []string{"-c", "one.json", "-c", "two.json"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "one.json", "-c", "two.json"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowedFlags)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterArgs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "/path/short.json", ConfigPath([]string{"-c", "/path/short.json"}))
	assert.Equal(t, "/path/long.json", ConfigPath([]string{"-a", ":1", "-config", "/path/long.json"}))
	assert.Equal(t, "/path/2.json", ConfigPath([]string{"-c", "/path/1.json", "-config=/path/2.json"}))
	assert.Empty(t, ConfigPath([]string{"-x", "1"}))
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"testbin", "-c", "/etc/tenantguard.json"}
	assert.Equal(t, "/etc/tenantguard.json", JsonConfigFlags())
}
