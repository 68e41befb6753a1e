// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault_Shared(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestStatusHelpers_IncludeIndicator(t *testing.T) {
	assert.Contains(t, RenderSuccess("saved"), "[OK] saved")
	assert.Contains(t, RenderError("failed"), "[X] failed")
	assert.Contains(t, RenderWarning("slow"), "[!] slow")
	assert.Contains(t, RenderInfo("note"), "[i] note")
}

func TestTheme_StylesKeepText(t *testing.T) {
	th := NewTheme()
	for _, s := range []string{
		th.Heading.Render("title"),
		th.CodeSpan.Render("title"),
		th.Expander.Render("title"),
	} {
		assert.Contains(t, s, "title")
	}
}
