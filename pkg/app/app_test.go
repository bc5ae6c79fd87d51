package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	cliflag "k8s.io/component-base/cli/flag"
)

type demo struct {
	Name  string        `mapstructure:"name"`
	Count int           `mapstructure:"count"`
	Wait  time.Duration `mapstructure:"wait"`
}

type demoOptions struct {
	Demo *demo `mapstructure:"demo"`

	invalid error
}

func (o *demoOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	fs := fss.FlagSet("demo")
	fs.StringVar(&o.Demo.Name, "demo.name", o.Demo.Name, "Name.")
	fs.IntVar(&o.Demo.Count, "demo.count", o.Demo.Count, "Count.")
	fs.DurationVar(&o.Demo.Wait, "demo.wait", o.Demo.Wait, "Wait.")
	return fss
}

func (o *demoOptions) Complete() error { return nil }
func (o *demoOptions) Validate() error { return o.invalid }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigLayering(t *testing.T) {
	path := writeConfig(t, "demo:\n  name: file\n  count: 3\n  wait: 2s\n")

	tests := []struct {
		name string
		args []string
		env  map[string]string
		want demo
	}{
		{
			name: "defaults",
			args: []string{},
			want: demo{Name: "default", Count: 1, Wait: time.Second},
		},
		{
			name: "file over defaults",
			args: []string{"--config", path},
			want: demo{Name: "file", Count: 3, Wait: 2 * time.Second},
		},
		{
			name: "flag over file",
			args: []string{"--config", path, "--demo.name=flag"},
			want: demo{Name: "flag", Count: 3, Wait: 2 * time.Second},
		},
		{
			name: "env over file",
			args: []string{"--config", path},
			env:  map[string]string{"DEMO_APP_DEMO_COUNT": "7"},
			want: demo{Name: "file", Count: 7, Wait: 2 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			opts := &demoOptions{Demo: &demo{Name: "default", Count: 1, Wait: time.Second}}
			ran := false
			a := NewApp("demo-app", "demo", WithOptions(opts), WithRunFunc(func() error {
				ran = true
				return nil
			}))
			a.Command().SetArgs(tt.args)

			if err := a.Command().Execute(); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !ran {
				t.Fatal("run func was not called")
			}
			if *opts.Demo != tt.want {
				t.Errorf("options = %+v, want %+v", *opts.Demo, tt.want)
			}
		})
	}
}

func TestMissingExplicitConfigFails(t *testing.T) {
	opts := &demoOptions{Demo: &demo{}}
	a := NewApp("demo-app", "demo", WithOptions(opts), WithRunFunc(func() error { return nil }))
	a.Command().SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})

	if err := a.Command().Execute(); err == nil {
		t.Fatal("Execute() succeeded with a missing config file")
	}
}

func TestValidationStopsRun(t *testing.T) {
	invalid := errors.New("bad options")
	opts := &demoOptions{Demo: &demo{}, invalid: invalid}
	ran := false
	a := NewApp("demo-app", "demo", WithOptions(opts), WithNoConfig(), WithRunFunc(func() error {
		ran = true
		return nil
	}))
	a.Command().SetArgs([]string{})

	if err := a.Command().Execute(); !errors.Is(err, invalid) {
		t.Fatalf("Execute() error = %v, want %v", err, invalid)
	}
	if ran {
		t.Error("run func was called despite invalid options")
	}
}

func TestDefaultValidArgs(t *testing.T) {
	a := NewApp("demo-app", "demo", WithNoConfig(), WithDefaultValidArgs(), WithRunFunc(func() error { return nil }))
	a.Command().SetArgs([]string{"extra"})

	if err := a.Command().Execute(); err == nil {
		t.Fatal("Execute() accepted a positional argument")
	}
}

func TestEnvPrefix(t *testing.T) {
	if got := envPrefix("mav-bridge"); got != "MAV_BRIDGE" {
		t.Errorf("envPrefix() = %q, want MAV_BRIDGE", got)
	}
}

func TestTable(t *testing.T) {
	tbl := NewTable("NAME", "VALUE")
	tbl.AddRow("a", 1)
	tbl.AddRow("b", 2)
	if tbl.Rows() != 2 {
		t.Errorf("Rows() = %d, want 2", tbl.Rows())
	}
}
