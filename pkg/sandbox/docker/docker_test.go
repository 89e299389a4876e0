package docker

import (
	"testing"

	"github.com/nstogner/agentx/pkg/sandbox"
	"github.com/stretchr/testify/assert"
)

func TestParseFind(t *testing.T) {
	out := "f\t12\tindex.html\nd\t4096\tsrc\nf\t3\tsrc/app.ts\n\n"
	got := parseFind(out, "web")
	assert.Equal(t, []sandbox.Entry{
		{Name: "index.html", Path: "web/index.html", Size: 12},
		{Name: "src", Path: "web/src", IsDir: true},
		{Name: "app.ts", Path: "web/src/app.ts", Size: 3},
	}, got)
}

func TestImageForTemplate(t *testing.T) {
	p := &Provider{cfg: Config{
		Images:       map[string]string{"agentX-test": "ghcr.io/example/next:1"},
		DefaultImage: DefaultImage,
	}}
	assert.Equal(t, "ghcr.io/example/next:1", p.image("agentX-test"))
	assert.Equal(t, DefaultImage, p.image("other"))
}
