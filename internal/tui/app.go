package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wildeye/camtriage/internal/catalog"
	"github.com/wildeye/camtriage/internal/config"
	"github.com/wildeye/camtriage/internal/logging"
	"github.com/wildeye/camtriage/internal/models"
	"github.com/wildeye/camtriage/internal/predictions"
	"github.com/wildeye/camtriage/internal/sorter"
	"github.com/wildeye/camtriage/internal/storage"
	"github.com/wildeye/camtriage/internal/task"
	"github.com/wildeye/camtriage/internal/thumbs"
)

type View int

const (
	ViewBrowse View = iota
	ViewOutput
	ViewLogs
	ViewHistory
)

type inputMode int

const (
	inputNone inputMode = iota
	inputOpenFolder
	inputSetDest
)

// maxOutputLines bounds the in-memory task output buffer.
const maxOutputLines = 500

// App is the bubbletea model for the triage UI. All state mutation
// happens on the UI update loop; worker goroutines only send messages.
type App struct {
	cfg        *config.Config
	session    *catalog.Session
	dests      *sorter.Destinations
	classifier *task.Controller
	visualizer *task.Controller
	store      *storage.Storage
	ring       *logging.Ring
	thumbs     *thumbs.Cache

	view      View
	mode      inputMode
	destSlot  int
	input     textinput.Model
	output    viewport.Model
	logsView  viewport.Model
	outLines  []string
	preds     *predictions.Set
	history   []*models.Task
	histIdx   int
	thumbPath string
	status    string

	send func(tea.Msg)

	width  int
	height int
}

func NewApp(cfg *config.Config, session *catalog.Session, dests *sorter.Destinations,
	classifier, visualizer *task.Controller, store *storage.Storage, ring *logging.Ring) *App {

	input := textinput.New()
	input.CharLimit = 512
	input.Width = 60

	return &App{
		cfg:        cfg,
		session:    session,
		dests:      dests,
		classifier: classifier,
		visualizer: visualizer,
		store:      store,
		ring:       ring,
		thumbs:     thumbs.NewCache(cfg.ThumbsDir),
		view:       ViewBrowse,
		input:      input,
		output:     viewport.New(80, 20),
		logsView:   viewport.New(80, 20),
	}
}

// AttachSender wires the running program's Send so task controllers
// can deliver worker messages into the update loop, in order.
func (a *App) AttachSender(send func(tea.Msg)) {
	a.send = send
}

// Sink returns the task.Sink controllers should stream into.
func (a *App) Sink() task.Sink {
	return &programSink{app: a}
}

type programSink struct {
	app *App
}

func (s *programSink) Line(capability models.Capability, line string) {
	if s.app.send != nil {
		s.app.send(taskLineMsg{capability: capability, line: line})
	}
}

func (s *programSink) Finished(n task.Notification) {
	if s.app.send != nil {
		s.app.send(taskDoneMsg{n: n})
	}
}

func (a *App) Init() tea.Cmd {
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.output.Width = msg.Width - 2
		a.output.Height = msg.Height - 5
		a.logsView.Width = msg.Width - 2
		a.logsView.Height = msg.Height - 5
		return a, nil

	case taskLineMsg:
		a.outLines = append(a.outLines, fmt.Sprintf("[%s] %s", msg.capability, msg.line))
		if len(a.outLines) > maxOutputLines {
			a.outLines = a.outLines[len(a.outLines)-maxOutputLines:]
		}
		a.output.SetContent(strings.Join(a.outLines, "\n"))
		a.output.GotoBottom()
		return a, nil

	case taskDoneMsg:
		return a.handleTaskDone(msg.n)

	case predsLoadedMsg:
		if msg.err != nil {
			a.preds = nil
			return a, nil
		}
		a.preds = msg.set
		return a, nil

	case thumbMsg:
		if msg.err == nil {
			a.thumbPath = msg.path
		} else {
			a.thumbPath = ""
		}
		return a, nil

	case historyLoadedMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("Error: %v", msg.err)
			return a, nil
		}
		a.history = msg.tasks
		a.histIdx = 0
		a.view = ViewHistory
		return a, nil

	case copiedMsg:
		if msg.err != nil {
			a.status = fmt.Sprintf("Copy failed: %v", msg.err)
		} else {
			a.status = fmt.Sprintf("Copied to %s", msg.dest)
		}
		return a, nil
	}

	return a, nil
}

func (a *App) handleTaskDone(n task.Notification) (tea.Model, tea.Cmd) {
	switch n.Status {
	case models.TaskStatusSucceeded:
		if len(n.Artifacts) > 0 {
			a.status = fmt.Sprintf("%s finished, %d new artifacts", n.TaskName, len(n.Artifacts))
		} else {
			a.status = fmt.Sprintf("%s finished", n.TaskName)
		}
	case models.TaskStatusCancelled:
		a.status = fmt.Sprintf("%s cancelled", n.TaskName)
	default:
		if n.Err != nil {
			a.status = fmt.Sprintf("%s failed: %v", n.TaskName, n.Err)
		} else {
			a.status = fmt.Sprintf("%s exited with code %d", n.TaskName, n.ExitCode)
		}
	}

	var cmds []tea.Cmd
	if n.Status == models.TaskStatusSucceeded && n.Capability == models.CapabilityClassifier {
		cmds = append(cmds, a.loadPredictions(n.Folder))
	}
	if n.FolderReloaded {
		cmds = append(cmds, a.refreshThumb())
	}
	return a, tea.Batch(cmds...)
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.mode != inputNone {
		return a.handleInputKey(msg)
	}

	switch a.view {
	case ViewBrowse:
		return a.handleBrowseKey(msg)
	case ViewOutput, ViewLogs:
		return a.handleScrollKey(msg)
	case ViewHistory:
		return a.handleHistoryKey(msg)
	}
	return a, nil
}

func (a *App) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.mode = inputNone
		a.input.Blur()
		return a, nil

	case "enter":
		value := strings.TrimSpace(a.input.Value())
		mode, slot := a.mode, a.destSlot
		a.mode = inputNone
		a.input.Blur()
		if value == "" {
			return a, nil
		}
		switch mode {
		case inputOpenFolder:
			if err := a.session.Open(value); err != nil {
				a.status = fmt.Sprintf("Error: %v", err)
				return a, nil
			}
			a.preds = nil
			a.status = fmt.Sprintf("Opened %s (%d images)", value, a.session.Catalog().Len())
			return a, tea.Batch(a.loadPredictions(value), a.refreshThumb())
		case inputSetDest:
			if err := a.dests.Set(slot, value); err != nil {
				a.status = fmt.Sprintf("Error: %v", err)
			} else {
				a.status = fmt.Sprintf("Destination %d set to %s", slot, value)
			}
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) handleBrowseKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "left", "h":
		if cat := a.session.Catalog(); cat != nil {
			cat.Advance(-1)
			return a, a.refreshThumb()
		}

	case "right", "l":
		if cat := a.session.Catalog(); cat != nil {
			cat.Advance(1)
			return a, a.refreshThumb()
		}

	case "g":
		if cat := a.session.Catalog(); cat != nil && cat.Len() > 0 {
			_ = cat.JumpTo(0)
			return a, a.refreshThumb()
		}

	case "G":
		if cat := a.session.Catalog(); cat != nil && cat.Len() > 0 {
			_ = cat.JumpTo(cat.Len() - 1)
			return a, a.refreshThumb()
		}

	case "o":
		a.mode = inputOpenFolder
		a.input.Placeholder = "folder to open"
		a.input.SetValue("")
		a.input.Focus()
		return a, textinput.Blink

	case "1", "2", "3":
		slot := int(msg.String()[0] - '0')
		return a, a.copyCurrent(slot)

	case "!", "@", "#":
		slots := map[string]int{"!": 1, "@": 2, "#": 3}
		a.destSlot = slots[msg.String()]
		a.mode = inputSetDest
		a.input.Placeholder = fmt.Sprintf("destination folder for slot %d", a.destSlot)
		a.input.SetValue("")
		a.input.Focus()
		return a, textinput.Blink

	case "s":
		return a, a.runClassifier()

	case "m":
		return a, a.runVisualizer()

	case "x":
		a.classifier.Cancel()
		a.visualizer.Cancel()
		a.status = "Cancellation requested"
		return a, nil

	case "O":
		a.view = ViewOutput
		return a, nil

	case "L":
		a.logsView.SetContent(strings.Join(a.ring.Tail(0), "\n"))
		a.logsView.GotoBottom()
		a.view = ViewLogs
		return a, nil

	case "H":
		return a, a.loadHistory()
	}

	return a, nil
}

func (a *App) handleScrollKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewBrowse
		return a, nil
	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	if a.view == ViewOutput {
		a.output, cmd = a.output.Update(msg)
	} else {
		a.logsView, cmd = a.logsView.Update(msg)
	}
	return a, cmd
}

func (a *App) handleHistoryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewBrowse
	case "ctrl+c":
		return a, tea.Quit
	case "up", "k":
		if a.histIdx > 0 {
			a.histIdx--
		}
	case "down", "j":
		if a.histIdx < len(a.history)-1 {
			a.histIdx++
		}
	case "r":
		return a, a.loadHistory()
	}
	return a, nil
}

// Commands

func (a *App) runClassifier() tea.Cmd {
	dir := a.session.Dir()
	if dir == "" {
		a.status = "Open a folder first"
		return nil
	}
	command, err := task.ClassifierCommand(a.cfg.Settings, dir)
	if err != nil {
		a.status = fmt.Sprintf("Error: %v", err)
		return nil
	}
	a.classifier.Run("SpeciesNet", command, dir, a.Sink())
	a.status = "SpeciesNet started"
	return nil
}

func (a *App) runVisualizer() tea.Cmd {
	dir := a.session.Dir()
	if dir == "" {
		a.status = "Open a folder first"
		return nil
	}
	command, err := task.VisualizerCommand(a.cfg.Settings, dir)
	if err != nil {
		a.status = fmt.Sprintf("Error: %v", err)
		return nil
	}
	a.visualizer.Run("MegaDetector", command, dir, a.Sink())
	a.status = "MegaDetector started"
	return nil
}

func (a *App) copyCurrent(slot int) tea.Cmd {
	cat := a.session.Catalog()
	if cat == nil {
		a.status = "Open a folder first"
		return nil
	}
	current, ok := cat.Current()
	if !ok {
		a.status = "No image selected"
		return nil
	}
	dests := a.dests
	return func() tea.Msg {
		dest, err := dests.Copy(slot, current)
		return copiedMsg{dest: dest, err: err}
	}
}

func (a *App) loadPredictions(dir string) tea.Cmd {
	return func() tea.Msg {
		set, err := predictions.Load(predictions.PathFor(dir))
		return predsLoadedMsg{set: set, err: err}
	}
}

func (a *App) refreshThumb() tea.Cmd {
	cat := a.session.Catalog()
	if cat == nil {
		return nil
	}
	current, ok := cat.Current()
	if !ok {
		a.thumbPath = ""
		return nil
	}
	cache := a.thumbs
	return func() tea.Msg {
		path, err := cache.Ensure(current)
		return thumbMsg{path: path, err: err}
	}
}

func (a *App) loadHistory() tea.Cmd {
	return func() tea.Msg {
		tasks, err := a.store.ListTasks(20)
		return historyLoadedMsg{tasks: tasks, err: err}
	}
}

// Views

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("114"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) View() string {
	switch a.view {
	case ViewBrowse:
		return a.viewBrowse()
	case ViewOutput:
		return a.viewScroll("Task Output", a.output)
	case ViewLogs:
		return a.viewScroll("Logs", a.logsView)
	case ViewHistory:
		return a.viewHistory()
	}
	return ""
}

func (a *App) viewBrowse() string {
	s := titleStyle.Render("camtriage") + "\n\n"

	cat := a.session.Catalog()
	if cat == nil {
		s += "No folder open. Press 'o' to open one.\n"
	} else {
		s += labelStyle.Render("Folder: ") + cat.Dir() + "\n"
		current, ok := cat.Current()
		if !ok {
			s += "(folder has no images)\n"
		} else {
			s += fmt.Sprintf("Image %d/%d: %s\n", cat.Cursor()+1, cat.Len(), filepath.Base(current))
			if a.thumbPath != "" {
				s += labelStyle.Render("Thumbnail: ") + dimStyle.Render(a.thumbPath) + "\n"
			}
			s += a.renderPrediction(current)
		}
	}

	s += "\n" + a.renderDestinations()
	s += "\n" + a.renderTaskState()

	if a.mode != inputNone {
		s += "\n" + a.input.View() + "\n"
	}

	if a.status != "" {
		s += "\n" + a.status + "\n"
	}

	s += "\n" + helpStyle.Render(
		"[←/→] browse  [1-3] sort  [!/@/#] set dest  [o] open  [s] classify  [m] visualize\n"+
			"[x] cancel  [O] output  [L] logs  [H] history  [q] quit")
	return s
}

func (a *App) renderPrediction(imagePath string) string {
	if a.preds == nil {
		return ""
	}
	pred, ok := a.preds.ForImage(imagePath)
	if !ok {
		return dimStyle.Render("no prediction for this image") + "\n"
	}

	s := labelStyle.Render("Detections:") + "\n"
	if len(pred.Detections) == 0 {
		return s + dimStyle.Render("  none") + "\n"
	}
	for i, det := range pred.Detections {
		s += fmt.Sprintf("  %d. %s  %.1f%%\n", i+1, det.Category, det.Conf*100)
		if len(det.ClassProbs) > 0 {
			s += dimStyle.Render("     "+topProbs(det.ClassProbs, 3)) + "\n"
		}
	}
	return s
}

func topProbs(probs map[string]float64, n int) string {
	type entry struct {
		species string
		prob    float64
	}
	entries := make([]entry, 0, len(probs))
	for sp, p := range probs {
		entries = append(entries, entry{sp, p})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].prob > entries[j].prob })
	if n > len(entries) {
		n = len(entries)
	}
	parts := make([]string, 0, n)
	for _, e := range entries[:n] {
		parts = append(parts, fmt.Sprintf("%s %.1f%%", e.species, e.prob*100))
	}
	return strings.Join(parts, ", ")
}

func (a *App) renderDestinations() string {
	s := labelStyle.Render("Destinations:") + "\n"
	for slot := 1; slot <= sorter.SlotCount; slot++ {
		if dir, ok := a.dests.Get(slot); ok {
			s += fmt.Sprintf("  [%d] %s\n", slot, dir)
		} else {
			s += dimStyle.Render(fmt.Sprintf("  [%d] (unset)", slot)) + "\n"
		}
	}
	return s
}

func (a *App) renderTaskState() string {
	s := ""
	if a.classifier.Running() {
		s += statusRunning.Render("● classifier running") + "  "
	}
	if a.visualizer.Running() {
		s += statusRunning.Render("● visualizer running")
	}
	if s == "" {
		return dimStyle.Render("no task running")
	}
	return s
}

func (a *App) viewScroll(title string, vp viewport.Model) string {
	s := titleStyle.Render(title) + "\n\n"
	s += vp.View() + "\n"
	s += "\n" + helpStyle.Render("[↑/↓] scroll  [esc] back  [q] back")
	return s
}

func (a *App) viewHistory() string {
	s := titleStyle.Render("Task History") + "\n\n"

	if len(a.history) == 0 {
		s += "No tasks recorded yet.\n"
	}
	for i, t := range a.history {
		line := fmt.Sprintf("#%-3d %-12s %s  %s", t.ID, t.Name, a.formatStatus(t.Status), t.Folder)
		if t.ExitCode != nil && *t.ExitCode != 0 {
			line += statusFailed.Render(fmt.Sprintf("  exit:%d", *t.ExitCode))
		}
		if len(t.Artifacts) > 0 {
			line += dimStyle.Render(fmt.Sprintf("  %d artifacts", len(t.Artifacts)))
		}
		if i == a.histIdx {
			line = selectedStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [r] refresh  [esc] back")
	return s
}

func (a *App) formatStatus(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusRunning:
		return statusRunning.Render("● running")
	case models.TaskStatusSucceeded:
		return statusSucceeded.Render("✓ succeeded")
	case models.TaskStatusFailed:
		return statusFailed.Render("✗ failed")
	case models.TaskStatusCancelled:
		return statusCancelled.Render("⚠ cancelled")
	default:
		return string(status)
	}
}

// Messages

type taskLineMsg struct {
	capability models.Capability
	line       string
}

type taskDoneMsg struct {
	n task.Notification
}

type predsLoadedMsg struct {
	set *predictions.Set
	err error
}

type thumbMsg struct {
	path string
	err  error
}

type historyLoadedMsg struct {
	tasks []*models.Task
	err   error
}

type copiedMsg struct {
	dest string
	err  error
}
