package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinProfiles(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"feedback", "inbound"}, set.Names())

	inbound, err := set.Get("inbound")
	require.NoError(t, err)
	require.Equal(t, []string{
		"book_room_function",
		"get_available_rooms_function",
		"webscraper_for_recommendations_function",
		"delete_booking_function",
		"alter_booking_function",
		"find_booking_by_number_function",
	}, inbound.Tools)
	require.Contains(t, inbound.Greeting, "Moravelo Hotel Group")

	text, err := inbound.Render(Vars{
		CustomerNumber: "+212600000000",
		Hotels:         []Hotel{{Name: "Hotel Atlas", Area: "Marrakech"}},
	})
	require.NoError(t, err)
	require.Contains(t, text, "- Hotel Atlas: Marrakech")
	require.Contains(t, text, "The customer's number for this session is: +212600000000")

	feedback, err := set.Get("feedback")
	require.NoError(t, err)
	require.Equal(t, []string{
		"find_booking_by_number_function",
		"webscraper_for_recommendations_function",
		"add_feedback_function",
	}, feedback.Tools)
}

func TestLoadOverridesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("name: inbound\ngreeting: Hi\ntools: [get_available_rooms_function]\ninstructions: Call {{ .CustomerNumber }}\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inbound.yaml"), custom, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	set, err := Load(dir)
	require.NoError(t, err)
	p, err := set.Get("inbound")
	require.NoError(t, err)
	require.Equal(t, "Hi", p.Greeting)

	text, err := p.Render(Vars{CustomerNumber: "+1555"})
	require.NoError(t, err)
	require.Equal(t, "Call +1555", text)

	_, err = set.Get("feedback")
	require.NoError(t, err)
}

func TestParseRejectsInvalidProfiles(t *testing.T) {
	_, err := Parse([]byte("greeting: hi\ninstructions: x\n"))
	require.ErrorContains(t, err, "name is required")

	_, err = Parse([]byte("name: x\n"))
	require.ErrorContains(t, err, "instructions are required")

	_, err = Parse([]byte("name: x\ninstructions: '{{ .Broken '\n"))
	require.ErrorContains(t, err, "parse instructions")
}

func TestGetUnknownProfile(t *testing.T) {
	set, err := Load("")
	require.NoError(t, err)
	_, err = set.Get("marketing")
	require.ErrorIs(t, err, ErrUnknownProfile)
}
