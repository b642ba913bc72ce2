// Package notify delivers alert emails through AWS SES v2. It satisfies
// alerting.Notifier.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/osteele/liquid"

	appconfig "github.com/northcell/conversation-cdc/internal/config"
	"github.com/northcell/conversation-cdc/internal/domain"
)

// maxSnapshotRows caps how many affected subscribers the email lists. The
// full snapshot stays in alert_history.
const maxSnapshotRows = 10

const alertBodyTemplate = `<h2 style="color:{{ color }}">{{ severity }}: {{ name }}</h2>
<p>Metric <strong>{{ source }}.{{ metric }}</strong> is {{ value }}, {{ comparison }} the threshold of {{ threshold }}, over the last {{ window_hours }} hour(s).</p>
{% if product != "" %}<p>Product filter: {{ product }}</p>{% endif %}
<p>{{ affected_count }} subscriber(s) in the snapshot.</p>
{% if shown_count > 0 %}<table border="1" cellpadding="4" cellspacing="0">
<tr><th>Subscriber</th><th>BAN</th><th>Churn</th><th>Sentiment</th><th>Satisfaction</th><th>Last call</th></tr>
{% for s in subscribers %}<tr><td>{{ s.subscriber_no }}</td><td>{{ s.ban }}</td><td>{{ s.churn_score }}</td><td>{{ s.sentiment }}</td><td>{{ s.satisfaction }}</td><td>{{ s.call_time }}</td></tr>
{% endfor %}</table>
{% endif %}<p>Triggered at {{ triggered_at }}. History id {{ history_id }}.</p>`

var severityColors = map[string]string{
	domain.SeverityCritical: "#c0392b",
	domain.SeverityWarning:  "#e67e22",
	domain.SeverityInfo:     "#2980b9",
}

// EmailNotifier sends one email per newly created alert event.
type EmailNotifier struct {
	client *sesv2.Client
	tmpl   *liquid.Template
	from   string
	to     []string
}

// NewEmailNotifier creates a notifier from the AWS and alerts config
// sections. Static credentials take precedence when configured.
func NewEmailNotifier(ctx context.Context, awsCfg appconfig.AWSConfig, alerts appconfig.AlertsConfig) (*EmailNotifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(awsCfg.Region)}
	if awsCfg.AccessKey != "" && awsCfg.SecretKey != "" {
		creds := credentials.NewStaticCredentialsProvider(awsCfg.AccessKey, awsCfg.SecretKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	tmpl, err := liquid.NewEngine().ParseString(alertBodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse alert template: %w", err)
	}

	return &EmailNotifier{
		client: sesv2.NewFromConfig(cfg),
		tmpl:   tmpl,
		from:   alerts.EmailFrom,
		to:     alerts.EmailTo,
	}, nil
}

// NotifyAlert emails the configured recipients about a newly fired alert.
// A notifier with no recipients is a no-op.
func (n *EmailNotifier) NotifyAlert(ctx context.Context, cfg domain.AlertConfig, ev *domain.AlertEvent) error {
	if len(n.to) == 0 || n.from == "" {
		return nil
	}

	body, err := n.renderBody(cfg, ev)
	if err != nil {
		return fmt.Errorf("render alert %s: %w", ev.ID, err)
	}
	subject := fmt.Sprintf("[%s] %s", ev.Severity, cfg.Name)

	_, err = n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &types.Destination{ToAddresses: n.to},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	log.Printf("notify: sent %s alert %q to %d recipient(s)", ev.Severity, cfg.Name, len(n.to))
	return nil
}

func (n *EmailNotifier) renderBody(cfg domain.AlertConfig, ev *domain.AlertEvent) (string, error) {
	var subscribers []map[string]any
	if ev.AffectedJSON != "" {
		if err := json.Unmarshal([]byte(ev.AffectedJSON), &subscribers); err != nil {
			log.Printf("notify: bad affected snapshot on %s: %v", ev.ID, err)
			subscribers = nil
		}
	}
	if len(subscribers) > maxSnapshotRows {
		subscribers = subscribers[:maxSnapshotRows]
	}

	color, ok := severityColors[ev.Severity]
	if !ok {
		color = severityColors[domain.SeverityInfo]
	}

	return n.tmpl.RenderString(liquid.Bindings{
		"name":           cfg.Name,
		"source":         cfg.MetricSource,
		"metric":         cfg.MetricName,
		"severity":       ev.Severity,
		"color":          color,
		"value":          fmt.Sprintf("%.2f", ev.MetricValue),
		"threshold":      fmt.Sprintf("%.2f", ev.Threshold),
		"comparison":     operatorText(cfg.Operator),
		"window_hours":   cfg.WindowHours,
		"product":        cfg.FilterProduct,
		"affected_count": ev.AffectedCount,
		"shown_count":    len(subscribers),
		"subscribers":    subscribers,
		"triggered_at":   ev.TriggeredAt.Format("2006-01-02 15:04:05 MST"),
		"history_id":     ev.ID,
	})
}

func operatorText(op string) string {
	switch op {
	case domain.OpGreaterThan:
		return "above"
	case domain.OpGreaterEqual:
		return "at or above"
	case domain.OpLessThan:
		return "below"
	case domain.OpLessEqual:
		return "at or below"
	case domain.OpEqual:
		return "equal to"
	default:
		return op
	}
}
