package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mtlcap/internal/app"
)

// settingKind distinguishes free-text settings from choice-based settings.
type settingKind int

const (
	settingText   settingKind = iota // Free-text input (durations, numbers).
	settingChoice                    // Cycle through predefined options.
)

// settingDef defines a setting's display metadata.
type settingDef struct {
	key         string
	label       string
	description string
	defaultVal  string
	kind        settingKind
	choices     []string // Only for settingChoice.
}

var settingDefs = buildSettingDefs(app.SettingInfos())

func buildSettingDefs(infos []app.SettingInfo) []settingDef {
	defs := make([]settingDef, 0, len(infos))
	for _, info := range infos {
		def := settingDef{
			key:         info.Key,
			label:       settingLabel(info.Key),
			description: capitalize(info.Help),
			defaultVal:  info.Default,
			kind:        settingText,
		}
		if len(info.Choices) > 0 {
			def.kind = settingChoice
			def.choices = info.Choices
		}
		defs = append(defs, def)
	}
	return defs
}

// settingLabel turns "link_recovery" into "Link Recovery".
func settingLabel(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

type settingsModel struct {
	settings map[string]string
	cursor   int
	editing  bool
	input    textinput.Model
	width    int
	height   int
}

func newSettingsModel() settingsModel {
	ti := textinput.New()
	ti.CharLimit = 256
	ti.Prompt = "> "
	ti.PromptStyle = lipgloss.NewStyle().Foreground(colorPurple)
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorFg)

	return settingsModel{
		settings: make(map[string]string),
		input:    ti,
	}
}

func (sm *settingsModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
	sm.input.Width = w / 2
}

func (sm *settingsModel) setSettings(s map[string]string) {
	sm.settings = s
}

// applySaved records a value once the store accepted it.
func (sm *settingsModel) applySaved(key, value string) {
	sm.settings[key] = value
}

func (sm *settingsModel) currentDef() settingDef {
	if sm.cursor >= 0 && sm.cursor < len(settingDefs) {
		return settingDefs[sm.cursor]
	}
	return settingDefs[0]
}

func (sm *settingsModel) currentValue() string {
	def := sm.currentDef()
	if v, ok := sm.settings[def.key]; ok {
		return v
	}
	return def.defaultVal
}

// choiceIndex returns the current index in the choices slice for a choice setting.
func (sm *settingsModel) choiceIndex(def settingDef) int {
	val := sm.currentValue()
	for i, c := range def.choices {
		if c == val {
			return i
		}
	}
	return 0
}

func (sm *settingsModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	if sm.editing {
		return sm.updateEditing(msg, root)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		def := sm.currentDef()

		switch msg.String() {
		case "up", "k":
			if sm.cursor > 0 {
				sm.cursor--
			}
		case "down", "j":
			if sm.cursor < len(settingDefs)-1 {
				sm.cursor++
			}
		case "enter":
			if def.kind == settingChoice {
				// Cycle to next choice on enter.
				return sm.cycleChoice(root, 1)
			}
			// Text setting: open editor.
			sm.editing = true
			sm.input.SetValue(sm.currentValue())
			sm.input.Focus()
			return textinput.Blink
		case "left", "h":
			if def.kind == settingChoice {
				return sm.cycleChoice(root, -1)
			}
		case "right", "l":
			if def.kind == settingChoice {
				return sm.cycleChoice(root, 1)
			}
		}
	}
	return nil
}

// cycleChoice moves to the next/prev choice and saves it.
func (sm *settingsModel) cycleChoice(root *Model, dir int) tea.Cmd {
	def := sm.currentDef()
	idx := sm.choiceIndex(def)
	idx = (idx + dir + len(def.choices)) % len(def.choices)
	val := def.choices[idx]
	return saveSetting(root.store, root.validate, def.key, val)
}

func (sm *settingsModel) updateEditing(msg tea.Msg, root *Model) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Back):
			sm.editing = false
			sm.input.Blur()
			return nil
		case msg.String() == "enter":
			sm.editing = false
			sm.input.Blur()
			def := sm.currentDef()
			val := strings.TrimSpace(sm.input.Value())
			return saveSetting(root.store, root.validate, def.key, val)
		}
	}

	var cmd tea.Cmd
	sm.input, cmd = sm.input.Update(msg)
	return cmd
}

func (sm *settingsModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Settings"))
	b.WriteString("\n\n")

	for i, def := range settingDefs {
		isSelected := i == sm.cursor

		val := def.defaultVal
		if v, ok := sm.settings[def.key]; ok {
			val = v
		}

		var line string
		if isSelected {
			label := lipgloss.NewStyle().Bold(true).Foreground(colorPurple).Width(20).Render("> " + def.label)
			if sm.editing {
				line = label + sm.input.View()
			} else if def.kind == settingChoice {
				line = label + sm.renderChoices(def, val)
			} else {
				value := lipgloss.NewStyle().Foreground(colorFg).Render(val)
				line = label + value
			}
		} else {
			label := lipgloss.NewStyle().Foreground(colorFg).Width(20).Render("  " + def.label)
			if def.kind == settingChoice {
				value := lipgloss.NewStyle().Foreground(colorDimFg).Render(val)
				line = label + value
			} else {
				value := lipgloss.NewStyle().Foreground(colorDimFg).Render(val)
				line = label + value
			}
		}

		b.WriteString(line + "\n")

		// Show description for selected item.
		if isSelected && !sm.editing {
			hint := def.description
			if def.kind == settingChoice {
				hint += "  (enter/arrows to change)"
			} else {
				hint += fmt.Sprintf("  (enter to edit, default: %s)", def.defaultVal)
			}
			b.WriteString(lipgloss.NewStyle().
				Foreground(colorDimFg).
				PaddingLeft(2).
				Render("  "+hint) + "\n")
		}
	}

	return forceHeight(b.String(), sm.width, sm.height)
}

// renderChoices renders the choice selector with the active choice highlighted.
func (sm *settingsModel) renderChoices(def settingDef, current string) string {
	var parts []string
	for _, c := range def.choices {
		if c == current {
			parts = append(parts, lipgloss.NewStyle().
				Bold(true).
				Foreground(colorPurple).
				Render("["+c+"]"))
		} else {
			parts = append(parts, lipgloss.NewStyle().
				Foreground(colorDimFg).
				Render(" "+c+" "))
		}
	}
	return strings.Join(parts, " ")
}
