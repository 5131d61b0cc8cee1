package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinybatch/tinybatch/internal/imaging"
)

// ErrSelectionAborted is returned when the user quits the menu without
// choosing an operation. No directory is read and no task is started.
var ErrSelectionAborted = errors.New("operation selection aborted")

// SelectOperation runs the two-level interactive menu and returns the
// chosen operation. First level picks compress vs convert; convert asks
// for the target format.
func SelectOperation() (imaging.OperationConfig, error) {
	model := newSelectorModel()
	final, err := tea.NewProgram(model).Run()
	if err != nil {
		return imaging.OperationConfig{}, err
	}

	m, ok := final.(selectorModel)
	if !ok || !m.done {
		return imaging.OperationConfig{}, ErrSelectionAborted
	}
	return m.result, nil
}

type selectorStep int

const (
	stepOperation selectorStep = iota
	stepFormat
)

type selectorModel struct {
	step   selectorStep
	cursor int
	result imaging.OperationConfig
	done   bool
}

var (
	operationChoices = []string{"Compress images", "Convert image formats"}
	formatChoices    = []imaging.Format{imaging.FormatPNG, imaging.FormatWebP, imaging.FormatJPEG}
)

func newSelectorModel() selectorModel {
	return selectorModel{}
}

func (m selectorModel) Init() tea.Cmd {
	return nil
}

func (m selectorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "ctrl+c", "q", "esc":
		m.done = false
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < m.choiceCount()-1 {
			m.cursor++
		}

	case "1", "2", "3":
		n := int(key.String()[0] - '1')
		if n < m.choiceCount() {
			m.cursor = n
			return m.choose()
		}

	case "enter":
		return m.choose()
	}

	return m, nil
}

func (m selectorModel) choiceCount() int {
	if m.step == stepOperation {
		return len(operationChoices)
	}
	return len(formatChoices)
}

func (m selectorModel) choose() (tea.Model, tea.Cmd) {
	if m.step == stepOperation {
		if m.cursor == 0 {
			m.result = imaging.OperationConfig{Mode: imaging.ModeCompress}
			m.done = true
			return m, tea.Quit
		}
		m.result.Mode = imaging.ModeConvert
		m.step = stepFormat
		m.cursor = 0
		return m, nil
	}

	m.result.Format = formatChoices[m.cursor]
	m.done = true
	return m, tea.Quit
}

func (m selectorModel) View() string {
	if m.done {
		return ""
	}

	var title string
	var items []string
	if m.step == stepOperation {
		title = "Select the operation"
		items = operationChoices
	} else {
		title = "Select the target format"
		for _, f := range formatChoices {
			items = append(items, strings.ToUpper(f.String()))
		}
	}

	lines := []string{titleStyle.Render(title)}
	for i, item := range items {
		marker := "  "
		style := itemStyle
		if i == m.cursor {
			marker = "> "
			style = selectedStyle
		}
		lines = append(lines, style.Render(fmt.Sprintf("%s%d. %s", marker, i+1, item)))
	}
	lines = append(lines, dimStyle.Render("enter/1-3 select · q quit"))

	return strings.Join(lines, "\n") + "\n"
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	itemStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#88C0D0"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)
