package coordinator

import "testing"

func TestValidatePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "root", path: "/", wantErr: false},
		{name: "simple", path: "/queue", wantErr: false},
		{name: "nested", path: "/queue/buckets/0/processed", wantErr: false},
		{name: "empty", path: "", wantErr: true},
		{name: "relative", path: "queue", wantErr: true},
		{name: "trailing_slash", path: "/queue/", wantErr: true},
		{name: "empty_segment", path: "/queue//failed", wantErr: true},
		{name: "dot_segment", path: "/queue/./failed", wantErr: true},
		{name: "dotdot_segment", path: "/queue/../failed", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		elem []string
		want string
	}{
		{name: "absolute", elem: []string{"/queue", "failed"}, want: "/queue/failed"},
		{name: "forces_absolute", elem: []string{"queue", "failed"}, want: "/queue/failed"},
		{name: "cleans", elem: []string{"/queue/", "/failed"}, want: "/queue/failed"},
		{name: "single", elem: []string{"/queue"}, want: "/queue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Join(tt.elem...); got != tt.want {
				t.Fatalf("Join(%v) = %q, want %q", tt.elem, got, tt.want)
			}
		})
	}
}

func TestParentLeaf(t *testing.T) {
	t.Parallel()

	if got := Parent("/queue/failed/x"); got != "/queue/failed" {
		t.Fatalf("Parent = %q", got)
	}
	if got := Parent("/queue"); got != "/" {
		t.Fatalf("Parent of top-level = %q", got)
	}
	if got := Leaf("/queue/failed/x"); got != "x" {
		t.Fatalf("Leaf = %q", got)
	}
}
