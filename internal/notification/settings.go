package notification

import (
	"farm-automation/internal/models"
)

// Route is one channel and the recipients to reach on it.
type Route struct {
	Channel    models.Channel
	Recipients []string
}

// Settings decides where an alert is sent. Email recipients come from the
// threshold when it names any, else from DefaultRecipients. SMS and push go to
// the configured operator numbers and chats.
type Settings struct {
	DefaultRecipients []string
	SMSNumbers        []string
	PushChats         []string
}

// Resolve returns the routes for an alert. Channel selection depends only on
// severity; low alerts are broadcast in real time and never sent.
func (s Settings) Resolve(alert models.Alert, thresholdRecipients []string) []Route {
	emails := thresholdRecipients
	if len(emails) == 0 {
		emails = s.DefaultRecipients
	}

	var routes []Route
	addRoute := func(ch models.Channel, recipients []string) {
		if len(recipients) > 0 {
			routes = append(routes, Route{Channel: ch, Recipients: recipients})
		}
	}

	switch alert.Severity {
	case models.SeverityCritical:
		addRoute(models.ChannelEmail, emails)
		addRoute(models.ChannelSMS, s.SMSNumbers)
		addRoute(models.ChannelPush, s.PushChats)
	case models.SeverityHigh:
		addRoute(models.ChannelEmail, emails)
		addRoute(models.ChannelPush, s.PushChats)
	case models.SeverityMedium:
		addRoute(models.ChannelEmail, emails)
	case models.SeverityLow:
		scope := alert.FarmID
		if scope == "" {
			scope = "*"
		}
		routes = append(routes, Route{Channel: models.ChannelWebsocket, Recipients: []string{scope}})
	}
	return routes
}

// Reliable reports whether any route performs a real send.
func Reliable(routes []Route) bool {
	for _, r := range routes {
		if r.Channel != models.ChannelWebsocket && len(r.Recipients) > 0 {
			return true
		}
	}
	return false
}
