package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "Frodo@shire.me", NormalizeEmail("  Frodo@SHIRE.ME "))
	assert.Equal(t, "gandalf@valinor.net", NormalizeEmail("gandalf@Valinor.NET"))
	assert.Equal(t, "noatsign", NormalizeEmail(" noatsign "))
}

func TestEmail(t *testing.T) {
	assert.NoError(t, Email("frodo@shire.me"))
	assert.NoError(t, Email("sam.gamgee+test@shire.me"))

	assert.Error(t, Email("a@b"), "too short")
	assert.Error(t, Email(strings.Repeat("a", 45)+"@shire.me"), "too long")
	assert.Error(t, Email("frodo.shire.me"), "missing @")
	assert.Error(t, Email("frodo baggins@shire.me"), "space not allowed")
	assert.Error(t, Email("frodo!@shire.me"), "bad character")
}

func TestPassword(t *testing.T) {
	assert.NoError(t, Password("secret"))
	assert.NoError(t, Password(strings.Repeat("x", 50)))

	assert.Error(t, Password("12345"))
	assert.Error(t, Password(strings.Repeat("x", 51)))
}

func TestPersonaName(t *testing.T) {
	assert.NoError(t, PersonaName("Legolas"))
	assert.NoError(t, PersonaName("ring_bearer-9"))
	assert.NoError(t, PersonaName("The White Rider"))

	assert.Error(t, PersonaName("ab"), "too short")
	assert.Error(t, PersonaName(strings.Repeat("a", 32)), "too long")
	assert.Error(t, PersonaName(" Legolas"), "leading space")
	assert.Error(t, PersonaName("Legolas "), "trailing space")
	assert.Error(t, PersonaName("Legolas!"), "bad character")
}

func TestGameName(t *testing.T) {
	assert.NoError(t, GameName("Helms Deep 24-7"))
	assert.Error(t, GameName("x"))
}
