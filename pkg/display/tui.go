package display

import (
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
)

type (
	taskStartedMsg struct {
		id   int
		name string
	}
	taskStageMsg struct {
		id            int
		stage, target string
	}
	taskProgressMsg struct {
		id      int
		percent int
		message string
	}
	taskDoneMsg struct{ id int }
	printMsg    struct{ text string }
)

type tuiTask struct {
	id      int
	name    string
	stage   string
	target  string
	percent int
	message string
}

// tuiModel is the bubbletea model behind NewTUI: one progress bar per task.
type tuiModel struct {
	theme *Theme
	bar   progress.Model
	tasks []*tuiTask
}

func newTUIModel() tuiModel {
	return tuiModel{
		theme: DefaultTheme(),
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) find(id int) *tuiTask {
	for _, t := range m.tasks {
		if t.id == id {
			return t
		}
	}
	return nil
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case taskStartedMsg:
		m.tasks = append(m.tasks, &tuiTask{id: msg.id, name: msg.name})
	case taskStageMsg:
		if t := m.find(msg.id); t != nil {
			t.stage, t.target = msg.stage, msg.target
		}
	case taskProgressMsg:
		if t := m.find(msg.id); t != nil {
			t.percent, t.message = min(max(msg.percent, 0), 100), msg.message
		}
	case taskDoneMsg:
		for i, t := range m.tasks {
			if t.id == msg.id {
				m.tasks = append(m.tasks[:i:i], m.tasks[i+1:]...)
				return m, tea.Println(m.theme.Styled(m.theme.Green, m.theme.Check) + " " + t.name + " Done")
			}
		}
	case printMsg:
		return m, tea.Println(strings.TrimSuffix(msg.text, "\n"))
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m tuiModel) View() string {
	var sb strings.Builder
	for _, t := range m.tasks {
		sb.WriteString(m.theme.Styled(m.theme.Cyan, t.name))
		sb.WriteString(" ")
		sb.WriteString(m.bar.ViewAs(float64(t.percent) / 100))
		if t.message != "" {
			sb.WriteString(" " + m.theme.Styled(m.theme.Dim, t.message))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// tuiDisplay runs a bubbletea program that renders tasks as progress bars.
// Mutable
type tuiDisplay struct {
	program *tea.Program
	done    chan struct{}

	mu      sync.Mutex
	nextID  int
	verbose bool
	closed  bool
}

// NewTUI starts an interactive display writing to out. Keyboard input is not
// read; the program stops on Close.
func NewTUI(out io.Writer) Display {
	d := &tuiDisplay{done: make(chan struct{})}
	d.program = tea.NewProgram(newTUIModel(), tea.WithOutput(out), tea.WithInput(nil))
	go func() {
		defer close(d.done)
		d.program.Run()
	}()
	return d
}

func (d *tuiDisplay) send(msg tea.Msg) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if !closed {
		d.program.Send(msg)
	}
}

func (d *tuiDisplay) StartTask(name string) Task {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.mu.Unlock()
	d.send(taskStartedMsg{id: id, name: name})
	return &tuiTaskHandle{d: d, id: id, name: name}
}

func (d *tuiDisplay) Log(msg string) {
	d.mu.Lock()
	verbose := d.verbose
	d.mu.Unlock()
	if verbose {
		d.send(printMsg{text: msg})
	}
}

func (d *tuiDisplay) Print(msg string) {
	d.send(printMsg{text: msg})
}

func (d *tuiDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.verbose = v
}

func (d *tuiDisplay) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()
	d.program.Quit()
	<-d.done
}

type tuiTaskHandle struct {
	d    *tuiDisplay
	id   int
	name string
}

func (t *tuiTaskHandle) Log(msg string) {
	t.d.Log("[" + t.name + "] " + msg)
}

func (t *tuiTaskHandle) SetStage(name string, target string) {
	t.d.send(taskStageMsg{id: t.id, stage: name, target: target})
}

func (t *tuiTaskHandle) Progress(percent int, message string) {
	t.d.send(taskProgressMsg{id: t.id, percent: percent, message: message})
}

func (t *tuiTaskHandle) Done() {
	t.d.send(taskDoneMsg{id: t.id})
}
