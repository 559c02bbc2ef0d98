package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/language"

	domain "github.com/lula-tea/api/internal/domain"
	"github.com/lula-tea/api/internal/messaging"
)

// notificationLanguages are the template languages, in matcher priority order.
// The first entry doubles as the fallback when the customer's language is
// unknown or unsupported.
var notificationLanguages = []language.Tag{
	language.English,
	language.French,
	language.Arabic,
}

// notificationTemplates holds the message body per (event, language).
// Placeholders: {name}, {orderNumber}, {total}, {reason}.
var notificationTemplates = map[NotificationEvent]map[language.Tag]string{
	NotificationEventConfirmed: {
		language.English: "Hi {name}, your order {orderNumber} is confirmed. Total: {total}. Thank you!",
		language.French:  "Bonjour {name}, votre commande {orderNumber} est confirmée. Total : {total}. Merci !",
		language.Arabic:  "مرحباً {name}، تم تأكيد طلبك {orderNumber}. الإجمالي: {total}. شكراً لك!",
	},
	NotificationEventProcessing: {
		language.English: "Hi {name}, your order {orderNumber} is being prepared.",
		language.French:  "Bonjour {name}, votre commande {orderNumber} est en cours de préparation.",
		language.Arabic:  "مرحباً {name}، طلبك {orderNumber} قيد التحضير.",
	},
	NotificationEventShipped: {
		language.English: "Hi {name}, your order {orderNumber} has shipped and is on its way.",
		language.French:  "Bonjour {name}, votre commande {orderNumber} a été expédiée et arrive bientôt.",
		language.Arabic:  "مرحباً {name}، تم شحن طلبك {orderNumber} وهو في الطريق إليك.",
	},
	NotificationEventDelivered: {
		language.English: "Hi {name}, your order {orderNumber} was delivered. Enjoy!",
		language.French:  "Bonjour {name}, votre commande {orderNumber} a été livrée. Bonne dégustation !",
		language.Arabic:  "مرحباً {name}، تم تسليم طلبك {orderNumber}. بالهناء والشفاء!",
	},
	NotificationEventCancelled: {
		language.English: "Hi {name}, your order {orderNumber} was cancelled. Reason: {reason}.",
		language.French:  "Bonjour {name}, votre commande {orderNumber} a été annulée. Motif : {reason}.",
		language.Arabic:  "مرحباً {name}، تم إلغاء طلبك {orderNumber}. السبب: {reason}.",
	},
}

// notificationSubjects are the email subject lines per language.
var notificationSubjects = map[NotificationEvent]map[language.Tag]string{
	NotificationEventConfirmed: {
		language.English: "Order {orderNumber} confirmed",
		language.French:  "Commande {orderNumber} confirmée",
		language.Arabic:  "تأكيد الطلب {orderNumber}",
	},
	NotificationEventProcessing: {
		language.English: "Order {orderNumber} in preparation",
		language.French:  "Commande {orderNumber} en préparation",
		language.Arabic:  "الطلب {orderNumber} قيد التحضير",
	},
	NotificationEventShipped: {
		language.English: "Order {orderNumber} shipped",
		language.French:  "Commande {orderNumber} expédiée",
		language.Arabic:  "تم شحن الطلب {orderNumber}",
	},
	NotificationEventDelivered: {
		language.English: "Order {orderNumber} delivered",
		language.French:  "Commande {orderNumber} livrée",
		language.Arabic:  "تم تسليم الطلب {orderNumber}",
	},
	NotificationEventCancelled: {
		language.English: "Order {orderNumber} cancelled",
		language.French:  "Commande {orderNumber} annulée",
		language.Arabic:  "تم إلغاء الطلب {orderNumber}",
	},
}

// NotificationDispatcherDeps wires the channel chain and its knobs.
type NotificationDispatcherDeps struct {
	// Push is the primary channel. Optional; when nil the chain starts at email.
	Push messaging.Sender
	// Email is the secondary channel, attempted only when the order carries an
	// email address. Optional.
	Email messaging.Sender
	// DefaultLanguage is used when the customer's language is missing or
	// unsupported. Defaults to English.
	DefaultLanguage string
	// SendTimeout bounds each individual channel attempt.
	SendTimeout time.Duration
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type notificationDispatcher struct {
	push            messaging.Sender
	email           messaging.Sender
	matcher         language.Matcher
	defaultLanguage language.Tag
	sendTimeout     time.Duration
	logger          func(ctx context.Context, event string, fields map[string]any)
}

const defaultSendTimeout = 10 * time.Second

// NewNotificationDispatcher builds the dispatcher from its dependencies.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (NotificationDispatcher, error) {
	defaultLanguage := notificationLanguages[0]
	if deps.DefaultLanguage != "" {
		tag, err := language.Parse(deps.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("notification dispatcher: parse default language: %w", err)
		}
		defaultLanguage = tag
	}
	sendTimeout := deps.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &notificationDispatcher{
		push:            deps.Push,
		email:           deps.Email,
		matcher:         language.NewMatcher(notificationLanguages),
		defaultLanguage: defaultLanguage,
		sendTimeout:     sendTimeout,
		logger:          logger,
	}, nil
}

// Notify renders the localized message for the event and walks the channel
// chain: push first, then email when the order has an address, and finally the
// manual fallback link. It never returns an error; failed delivery is data.
func (d *notificationDispatcher) Notify(ctx context.Context, order domain.Order, event NotificationEvent) NotificationResult {
	lang := d.resolveLanguage(order.Customer.Language)
	body := renderTemplate(notificationTemplates, event, lang, order)
	subject := renderTemplate(notificationSubjects, event, lang, order)
	result := NotificationResult{
		Event:        event,
		Message:      body,
		FallbackLink: buildFallbackLink(order.Customer.Phone, body),
	}
	if body == "" {
		result.Outcome = OutcomeChannelUnavailable
		result.Error = fmt.Sprintf("no template for event %q", event)
		return result
	}

	var lastErr string
	attempted := false

	if d.push != nil && order.Customer.Phone != "" {
		attempted = true
		if err := d.sendBounded(ctx, d.push, messaging.Message{To: order.Customer.Phone, Body: body}); err != nil {
			lastErr = err.Error()
			d.logger(ctx, "notify.channel_failed", map[string]any{
				"channel": d.push.Name(),
				"orderId": order.ID,
				"event":   string(event),
				"error":   err.Error(),
			})
		} else {
			result.Outcome = OutcomeDelivered
			result.Channel = d.push.Name()
			return result
		}
	}

	if d.email != nil && order.Customer.Email != "" {
		attempted = true
		msg := messaging.Message{To: order.Customer.Email, Subject: subject, Body: body}
		if err := d.sendBounded(ctx, d.email, msg); err != nil {
			lastErr = err.Error()
			d.logger(ctx, "notify.channel_failed", map[string]any{
				"channel": d.email.Name(),
				"orderId": order.ID,
				"event":   string(event),
				"error":   err.Error(),
			})
		} else {
			result.Outcome = OutcomeDelivered
			result.Channel = d.email.Name()
			return result
		}
	}

	if attempted {
		result.Outcome = OutcomeFailed
		result.Error = lastErr
	} else {
		result.Outcome = OutcomeChannelUnavailable
	}
	return result
}

func (d *notificationDispatcher) sendBounded(ctx context.Context, sender messaging.Sender, msg messaging.Message) error {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()
	return sender.Send(ctx, msg)
}

func (d *notificationDispatcher) resolveLanguage(preferred string) language.Tag {
	if preferred == "" {
		return d.defaultLanguage
	}
	desired, err := language.Parse(preferred)
	if err != nil {
		return d.defaultLanguage
	}
	_, index, confidence := d.matcher.Match(desired)
	if confidence == language.No {
		return d.defaultLanguage
	}
	return notificationLanguages[index]
}

func renderTemplate(templates map[NotificationEvent]map[language.Tag]string, event NotificationEvent, lang language.Tag, order domain.Order) string {
	byLanguage, ok := templates[event]
	if !ok {
		return ""
	}
	template, ok := byLanguage[lang]
	if !ok {
		template = byLanguage[notificationLanguages[0]]
	}
	reason := ""
	if order.Cancel != nil {
		reason = order.Cancel.Reason
	}
	return strings.NewReplacer(
		"{name}", order.Customer.Name,
		"{orderNumber}", order.OrderNumber,
		"{total}", formatAmount(order.Total),
		"{reason}", reason,
	).Replace(template)
}

// formatAmount renders a minor-unit amount as a decimal string.
func formatAmount(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

// buildFallbackLink produces a wa.me deep link with the rendered message
// prefilled, so an operator can deliver it manually from any device.
func buildFallbackLink(phone, body string) string {
	digits := messaging.NormalizePhone(phone)
	if digits == "" {
		return ""
	}
	return "https://wa.me/" + digits + "?text=" + url.QueryEscape(body)
}

// NotificationEventForStatus maps a committed order status to the customer
// notification it triggers. Pending has no notification of its own.
func NotificationEventForStatus(status domain.OrderStatus) (NotificationEvent, bool) {
	switch status {
	case domain.OrderStatusConfirmed:
		return NotificationEventConfirmed, true
	case domain.OrderStatusProcessing:
		return NotificationEventProcessing, true
	case domain.OrderStatusShipped:
		return NotificationEventShipped, true
	case domain.OrderStatusDelivered:
		return NotificationEventDelivered, true
	case domain.OrderStatusCancelled:
		return NotificationEventCancelled, true
	}
	return "", false
}
