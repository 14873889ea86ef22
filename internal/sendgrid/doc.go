// Package sendgrid normalizes SendGrid Event Webhook deliveries into
// domain events. Parsing is permissive: fields may arrive as numbers or
// strings and missing fields become zero values.
package sendgrid
