/*
 * Copyright 2026 FleetCmd Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fleetcmd/fleetcmd/pkg/dispatch"
	"github.com/fleetcmd/fleetcmd/pkg/models"
	"github.com/fleetcmd/fleetcmd/pkg/registry"
)

const maxLogLines = 200

// Dracula theme colors.
const (
	draculaCyan    = "#8BE9FD"
	draculaGreen   = "#50FA7B"
	draculaOrange  = "#FFB86C"
	draculaPink    = "#FF79C6"
	draculaRed     = "#FF5555"
	draculaComment = "#6272A4"
)

type styleSet struct {
	title, online, offline, success, failure, hint, entry lipgloss.Style
}

func newStyles() styleSet {
	return styleSet{
		title:   lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPink)).Bold(true),
		online:  lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)),
		offline: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)),
		success: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)).Bold(true),
		hint:    lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment)),
		entry:   lipgloss.NewStyle().Foreground(lipgloss.Color(draculaCyan)),
	}
}

// Messages delivered into the UI loop.
type (
	deviceSetMsg struct {
		devices   models.DeviceSet
		selection string
	}
	deviceConnectedMsg string
	dispatchStartedMsg string
	outcomeMsg struct {
		command string
		outcome models.Outcome
	}
	monitoringFailedMsg struct{ err error }
)

// teaNotifier bridges core notifications into bubbletea messages. It is
// attached to the program after construction; notifications arriving before
// that are dropped.
type teaNotifier struct {
	mu      sync.Mutex
	program *tea.Program
}

func (n *teaNotifier) attach(p *tea.Program) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.program = p
}

func (n *teaNotifier) send(msg tea.Msg) {
	n.mu.Lock()
	p := n.program
	n.mu.Unlock()

	if p != nil {
		p.Send(msg)
	}
}

func (n *teaNotifier) DeviceConnected(deviceID string) { n.send(deviceConnectedMsg(deviceID)) }
func (n *teaNotifier) DispatchStarted(command string) { n.send(dispatchStartedMsg(command)) }

func (n *teaNotifier) DispatchOutcome(command string, outcome models.Outcome) {
	n.send(outcomeMsg{command: command, outcome: outcome})
}

func (n *teaNotifier) MonitoringFailed(err error) { n.send(monitoringFailedMsg{err: err}) }

type model struct {
	principal string
	session   *dispatch.Session
	registry  *registry.Registry

	input    textinput.Model
	spin     spinner.Model
	styles   styleSet
	devices  models.DeviceSet
	selected string
	inFlight int
	logLines []string
	quitting bool
}

func newModel(principal string, session *dispatch.Session, reg *registry.Registry) model {
	input := textinput.New()
	input.Placeholder = `command [json params], e.g. get_info or echo {"n":1}`
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return model{
		principal: principal,
		session:   session,
		registry:  reg,
		input:     input,
		spin:      spin,
		styles:    newStyles(),
		devices:   models.DeviceSet{},
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		}
	case deviceSetMsg:
		m.devices = msg.devices
		m.selection(msg.selection)

		return m, nil
	case deviceConnectedMsg:
		m.appendLog(m.styles.online.Render(fmt.Sprintf("connected to device %s", string(msg))))
		return m, nil
	case dispatchStartedMsg:
		m.inFlight++
		m.appendLog(m.styles.entry.Render(fmt.Sprintf("> %s", string(msg))))

		return m, nil
	case outcomeMsg:
		if m.inFlight > 0 {
			m.inFlight--
		}

		m.appendLog(m.renderOutcome(msg.command, msg.outcome))

		return m, nil
	case monitoringFailedMsg:
		m.appendLog(m.styles.failure.Render(fmt.Sprintf("monitoring failed: %v", msg.err)))
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd

		m.spin, cmd = m.spin.Update(msg)

		return m, cmd
	}

	var cmd tea.Cmd

	m.input, cmd = m.input.Update(msg)

	return m, cmd
}

func (m *model) selection(sel string) {
	m.selected = sel
}

func (m model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" {
		return m, nil
	}

	name, rawParams, _ := strings.Cut(line, " ")

	var params map[string]any

	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			m.appendLog(m.styles.failure.Render(fmt.Sprintf("bad params: %v", err)))
			return m, nil
		}
	}

	m.input.Reset()

	session := m.session

	// The session blocks until the outcome; run it off the UI loop. The
	// outcome itself arrives through the notifier.
	return m, func() tea.Msg {
		session.RunCommand(context.Background(), name, params)
		return nil
	}
}

func (m *model) renderOutcome(command string, outcome models.Outcome) string {
	switch outcome.Kind {
	case models.OutcomeDelivered:
		return m.styles.success.Render(fmt.Sprintf("✓ %s", command)) + "\n" +
			renderPayload(command, outcome.Payload)
	case models.OutcomeTimedOut:
		return m.styles.failure.Render(fmt.Sprintf("✗ %s timed out; device may be offline", command))
	case models.OutcomeRejected:
		return m.styles.failure.Render(fmt.Sprintf("✗ %s rejected: %s", command, outcome.Message))
	default:
		return m.styles.failure.Render(fmt.Sprintf("✗ %s failed: %s", command, outcome.Message))
	}
}

func (m *model) appendLog(line string) {
	stamp := time.Now().Format("15:04:05")
	m.logLines = append(m.logLines, m.styles.hint.Render(stamp)+" "+line)

	if len(m.logLines) > maxLogLines {
		m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
	}
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.styles.title.Render("fleetcmd console"))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n\n")

	start := 0
	if len(m.logLines) > 20 {
		start = len(m.logLines) - 20
	}

	for _, line := range m.logLines[start:] {
		b.WriteString(line)
		b.WriteString("\n")
	}

	b.WriteString("\n")

	if m.inFlight > 0 {
		b.WriteString(m.spin.View())
		b.WriteString(m.styles.hint.Render(fmt.Sprintf(" %d command(s) in flight", m.inFlight)))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.styles.hint.Render("enter to dispatch · esc to quit"))

	return b.String()
}

func (m model) statusLine() string {
	if len(m.devices) == 0 {
		return m.styles.offline.Render("● no devices")
	}

	status := m.styles.online.Render(fmt.Sprintf("● %d device(s) online", len(m.devices)))

	target := m.selected
	if target == "" {
		target = "none"
	} else if !m.devices.Has(target) {
		// Selection is sticky; flag it rather than silently re-targeting.
		target += " (offline)"
	}

	return status + m.styles.hint.Render(" · target: "+target)
}
