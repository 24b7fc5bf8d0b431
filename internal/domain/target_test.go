package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetKey(t *testing.T) {
	for _, ref := range []string{
		"https://github.com/Octo/Widgets",
		"https://github.com/octo/widgets/",
		"https://github.com/octo/widgets.git",
		"github.com/octo/widgets",
		"octo/widgets",
		"git@github.com:octo/widgets.git",
	} {
		assert.Equal(t, "github.com_octo_widgets", TargetKey(ref), ref)
	}
	assert.Equal(t, "gitlab.example.com_8443_team_app", TargetKey("https://gitlab.example.com:8443/team/app"))
	assert.Equal(t, "https://github.com/octo/widgets", RepoURL("octo/widgets"))
}
