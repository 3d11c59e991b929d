package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"vitals/access"
	"vitals/config"
	"vitals/query"
	"vitals/system"
)

// Manager evaluates session alert rules on a fixed cadence
type Manager struct {
	config      config.AlertsConfig
	directory   *access.Directory
	queryEngine *query.Engine
	logger      log.Logger
	rules       []*Rule
	stopChan    chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	running     bool
}

// Rule is one parsed alert rule: a session metric evaluated over a
// lookback window against a threshold.
type Rule struct {
	Name         string
	Organization string
	Field        query.Field
	Filter       *query.Filter
	Threshold    float64
	Below        bool
	Window       time.Duration
	Severity     string
	lastFired    time.Time
	active       bool
}

// Event represents a fired alert
type Event struct {
	Rule      *Rule
	Timestamp time.Time
	Details   string
}

// NewManager creates a new alerting manager
func NewManager(cfg config.AlertsConfig, directory *access.Directory, queryEngine *query.Engine, logger log.Logger) (*Manager, error) {
	manager := &Manager{
		config:      cfg,
		directory:   directory,
		queryEngine: queryEngine,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}

	// Parse alert rules
	if err := manager.parseRules(); err != nil {
		return nil, fmt.Errorf("failed to parse alert rules: %w", err)
	}

	return manager, nil
}

// Start starts the alerting manager
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	// Start alert checker
	m.wg.Add(1)
	go m.checkAlerts()

	m.running = true
	level.Info(m.logger).Log("msg", "alerting manager started", "rules", len(m.rules))
	return nil
}

// Stop stops the alerting manager
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	// Stop alert checker
	close(m.stopChan)
	m.wg.Wait()

	m.running = false
	level.Info(m.logger).Log("msg", "alerting manager stopped")
	return nil
}

// parseRules parses the alert rules from the configuration
func (m *Manager) parseRules() error {
	m.rules = make([]*Rule, 0, len(m.config.Rules))

	for _, rc := range m.config.Rules {
		field, err := query.ParseField(rc.Field)
		if err != nil {
			return fmt.Errorf("invalid field for rule %s: %w", rc.Name, err)
		}

		filter, err := query.ParseFilter(rc.Query)
		if err != nil {
			return fmt.Errorf("invalid query for rule %s: %w", rc.Name, err)
		}

		window := time.Hour
		if rc.Window != "" {
			window, err = config.ParseDuration(rc.Window)
			if err != nil {
				return fmt.Errorf("invalid window for rule %s: %w", rc.Name, err)
			}
		}

		if _, err := m.directory.Resolve(rc.Organization); err != nil {
			return fmt.Errorf("rule %s: %w", rc.Name, err)
		}

		m.rules = append(m.rules, &Rule{
			Name:         rc.Name,
			Organization: rc.Organization,
			Field:        field,
			Filter:       filter,
			Threshold:    rc.Threshold,
			Below:        rc.Below,
			Window:       window,
			Severity:     rc.Severity,
		})
	}

	return nil
}

// checkAlerts periodically checks alert rules
func (m *Manager) checkAlerts() {
	defer m.wg.Done()

	// Check alerts every minute
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evaluateRules()
		case <-m.stopChan:
			return
		}
	}
}

// evaluateRules evaluates all alert rules
func (m *Manager) evaluateRules() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rule := range m.rules {
		triggered, details, err := m.evaluateRule(rule)
		if err != nil {
			level.Error(m.logger).Log("msg", "error evaluating rule", "rule", rule.Name, "err", err)
			continue
		}

		if triggered {
			// Fire once per crossing, not on every tick.
			if !rule.active {
				rule.active = true
				rule.lastFired = time.Now()
				system.AlertsFired.Inc()

				event := &Event{
					Rule:      rule,
					Timestamp: time.Now(),
					Details:   details,
				}
				if err := m.sendAlert(event); err != nil {
					level.Error(m.logger).Log("msg", "error sending alert", "rule", rule.Name, "err", err)
				}
			}
		} else {
			rule.active = false
		}
	}
}

// evaluateRule computes the rule's field total over its window and
// compares it against the threshold.
func (m *Manager) evaluateRule(rule *Rule) (bool, string, error) {
	org, err := m.directory.Resolve(rule.Organization)
	if err != nil {
		return false, "", err
	}
	projects := org.ProjectIDs()
	if len(projects) == 0 {
		return false, "", nil
	}

	now := time.Now().UTC()
	req := &query.Request{
		Projects: projects,
		Start:    now.Add(-rule.Window),
		End:      now,
		Interval: time.Hour,
		Fields:   []query.Field{rule.Field},
		Filter:   rule.Filter,
		PerPage:  1,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	total, err := m.queryEngine.Total(ctx, req)
	if err != nil {
		return false, "", fmt.Errorf("error executing query: %w", err)
	}
	if total == nil {
		return false, "", nil
	}

	crossed := *total > rule.Threshold
	if rule.Below {
		crossed = *total < rule.Threshold
	}
	if !crossed {
		return false, "", nil
	}

	direction := "exceeds"
	if rule.Below {
		direction = "is below"
	}
	details := fmt.Sprintf("%s is %.4f over the last %s, which %s the threshold %.4f",
		rule.Field.Name, *total, rule.Window, direction, rule.Threshold)
	return true, details, nil
}

// sendAlert sends an alert notification
func (m *Manager) sendAlert(event *Event) error {
	// Without email configured, just log the alert
	if !m.config.Email.Enabled {
		level.Warn(m.logger).Log("msg", "alert fired", "rule", event.Rule.Name, "details", event.Details)
		return nil
	}

	subject := fmt.Sprintf("Alert: %s [%s]", event.Rule.Name, event.Rule.Severity)
	body := fmt.Sprintf("Alert %s triggered at %s for organization %s.\r\n\r\n%s\r\n",
		event.Rule.Name,
		event.Timestamp.Format(time.RFC3339),
		event.Rule.Organization,
		event.Details)

	return m.sendEmail(subject, body)
}

// sendEmail sends an email notification
func (m *Manager) sendEmail(subject, body string) error {
	from := m.config.Email.FromAddress
	to := m.config.Email.ToAddresses

	message := []byte(fmt.Sprintf("From: %s\r\n", from) +
		fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")) +
		fmt.Sprintf("Subject: %s\r\n", subject) +
		"\r\n" +
		body)

	auth := smtp.PlainAuth("", m.config.Email.Username, m.config.Email.Password, m.config.Email.SMTPServer)
	addr := fmt.Sprintf("%s:%d", m.config.Email.SMTPServer, m.config.Email.SMTPPort)

	if err := smtp.SendMail(addr, auth, from, to, message); err != nil {
		return fmt.Errorf("error sending email: %w", err)
	}

	level.Info(m.logger).Log("msg", "alert email sent", "subject", subject)
	return nil
}
