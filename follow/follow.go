// Package follow is a terminal follow-along view of a generated narration:
// it runs a playback clock through the playback controller and highlights
// each sentence as it is spoken.
package follow

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"readify/pipelines/narration"
	"readify/playback"
)

const (
	frameInterval = 100 * time.Millisecond
	// secondsPerWord estimates how long the last sentence takes to speak.
	secondsPerWord = 0.4
	seekStep       = 20
)

var (
	highlightStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#FFD54F"))

	textStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	silentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#81D4FA")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	controlsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true)

	pausedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)

	completeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)
)

type tickMsg time.Time

// Model is the bubbletea model of the follow-along view.
type Model struct {
	manifest *narration.Manifest
	player   *playback.Controller
	viewport viewport.Model
	bar      progress.Model

	elapsed  float64
	lastTick time.Time
	paused   bool
	done     bool
	quitting bool

	// offsets[i] is the first content line of sentence i.
	offsets []int
	width   int
	height  int
}

// New builds the view for a narration manifest. Playback starts immediately.
func New(m *narration.Manifest) Model {
	player := playback.NewController()
	player.SetPages(m.Pages)
	player.Load(narration.NewTimepointMap(m.Timepoints, m.Narrated), m.Audio)
	player.SetDuration(EstimateDuration(m))
	player.Play()

	model := Model{
		manifest: m,
		player:   player,
		viewport: viewport.New(80, 20),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		width:    80,
		height:   24,
	}
	model.resize(80, 24)
	return model
}

// EstimateDuration approximates the audio length from the last mark, since
// the manifest does not carry the decoded MP3 duration.
func EstimateDuration(m *narration.Manifest) float64 {
	tm := narration.NewTimepointMap(m.Timepoints, len(m.Sentences))
	if tm.Len() == 0 {
		return 0
	}
	last := tm.Timepoints()[tm.Len()-1]
	index, _ := narration.ParseMarkIndex(last.MarkName)
	return last.TimeSeconds + float64(len(strings.Fields(m.Sentences[index].Text)))*secondsPerWord
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case " ":
			m.apply(m.player.TogglePlay())
			return m, nil

		case "left":
			m.apply(m.player.SeekBy(-seekStep))
			return m, nil

		case "right":
			m.apply(m.player.SeekBy(seekStep))
			return m, nil

		case "up", "down", "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd

		case "q", "Q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tickMsg:
		now := time.Time(msg)
		if !m.paused && !m.lastTick.IsZero() {
			m.elapsed += now.Sub(m.lastTick).Seconds()
		}
		m.lastTick = now

		if m.elapsed >= m.player.State().Duration {
			m.apply(m.player.End())
			m.done = true
			m.quitting = true
			return m, tea.Quit
		}
		m.apply(m.player.Tick(m.elapsed))
		return m, tick()
	}

	return m, nil
}

// apply performs controller commands locally: the clock stands in for the
// audio element and the viewport for the document surface.
func (m *Model) apply(cmds []playback.Command) {
	for _, c := range cmds {
		switch c.Kind {
		case playback.CmdPlay:
			m.paused = false
		case playback.CmdPause:
			m.paused = true
		case playback.CmdSeekBy:
			m.seek(m.elapsed + c.Seconds)
		case playback.CmdSeekTo:
			m.seek(c.Seconds)
		case playback.CmdHighlight:
			m.render()
			m.center(c.Target.Sentence)
		case playback.CmdClearHighlight:
			m.render()
		}
	}
}

func (m *Model) seek(t float64) {
	m.elapsed = max(0, min(t, m.player.State().Duration))
	m.apply(m.player.Tick(m.elapsed))
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.viewport.Width = width
	// title, status, progress and controls lines
	m.viewport.Height = max(1, height-4)
	m.bar.Width = max(10, width-2)
	m.render()
	if cur := m.player.State().CurrentSentence; cur >= 0 {
		m.center(cur)
	}
}

// render lays out one paragraph per sentence and records where each starts.
func (m *Model) render() {
	current := m.player.State().CurrentSentence
	wrap := lipgloss.NewStyle().Width(max(20, m.width-2))

	var sb strings.Builder
	m.offsets = m.offsets[:0]
	line := 0
	for _, s := range m.manifest.Sentences {
		style := textStyle
		switch {
		case s.Index == current:
			style = highlightStyle
		case s.Index >= m.manifest.Narrated:
			style = silentStyle
		}
		block := wrap.Render(style.Render(s.Text))
		m.offsets = append(m.offsets, line)
		line += strings.Count(block, "\n") + 1
		sb.WriteString(block)
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
}

func (m *Model) center(index int) {
	if index < 0 || index >= len(m.offsets) {
		return
	}
	m.viewport.SetYOffset(max(0, m.offsets[index]-m.viewport.Height/2))
}

func (m Model) View() string {
	if m.quitting {
		if m.done {
			return completeStyle.Render("\n  Narration complete!\n")
		}
		return ""
	}

	if len(m.manifest.Sentences) == 0 {
		return "No sentences to follow."
	}

	title := m.manifest.Title
	if title == "" {
		title = m.manifest.Source
	}

	st := m.player.State()
	pause := ""
	if m.paused {
		pause = pausedStyle.Render(" [PAUSED]")
	}
	status := statusStyle.Render(fmt.Sprintf("%s / %s | Sentence %d/%d%s",
		playback.FormatTime(st.CurrentTime),
		st.DurationStr,
		st.CurrentSentence+1,
		m.manifest.Narrated,
		pause,
	))

	controls := controlsStyle.Render("SPACE: pause/play  ←/→: 20s  ↑/↓: scroll  Q: quit")

	return strings.Join([]string{
		titleStyle.Render(title),
		m.viewport.View(),
		" " + m.bar.ViewAs(min(1, st.Progress/100)),
		status,
		controls,
	}, "\n")
}

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Run loads the manifest in dir and runs the view until playback ends or
// the user quits.
func Run(dir string) error {
	manifest, err := narration.LoadManifest(dir)
	if err != nil {
		return fmt.Errorf("failed to load narration: %w", err)
	}
	if len(manifest.Timepoints) == 0 {
		return fmt.Errorf("narration in %s has no timepoints", dir)
	}

	p := tea.NewProgram(New(manifest), tea.WithAltScreen())
	_, err = p.Run()
	return err
}
