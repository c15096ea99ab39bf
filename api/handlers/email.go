package handlers

import (
	"fmt"
	"os"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	templates "github.com/swifthaul/logistics-api/templates/html"
)

// sendEmail delivers one transactional email through SendGrid. Failures are
// returned for the caller to log; notification email is always best effort
// and never fails the request that triggered it.
func sendEmail(toEmail, toName, subject, htmlContent, plainText string) error {
	from := mail.NewEmail("SwiftHaul Logistics", "no-reply@swifthaul.app")
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(os.Getenv("SENDGRID_API_KEY"))

	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
		return fmt.Errorf("sendgrid returned status %d", response.StatusCode)
	}
	return nil
}

// notifyDriverAssigned emails a driver that a vehicle is now theirs. Runs on
// its own goroutine from the assignment handler, so it only logs on failure.
func notifyDriverAssigned(driverEmail, driverName, vehicleName string) {
	subject := "You have been assigned a vehicle"
	body := fmt.Sprintf(
		"Hi %s,\n\nYou are now the assigned driver for %s. Open the driver app to go on duty and start sharing your location.\n\nSafe travels,\nSwiftHaul Dispatch",
		driverName, vehicleName)

	htmlContent := templates.RenderGenericEmail(subject, body)
	if err := sendEmail(driverEmail, driverName, subject, htmlContent, body); err != nil {
		zap.S().Errorw("failed to send assignment notice", "email", driverEmail, "error", err)
	}
}

// notifyBookingConfirmed emails a customer after their payment verifies. Runs
// on its own goroutine from the payment handler, so it only logs on failure.
func notifyBookingConfirmed(customerEmail, customerName, bookingID, pickupAddress, dropAddress string, amount float64) {
	subject := "Your booking is confirmed"
	body := fmt.Sprintf(
		"Hi %s,\n\nPayment received for booking %s.\n\nPickup: %s\nDrop: %s\nAmount paid: Rs %.2f\n\nYour driver will start the trip shortly and you can follow the vehicle live from your dashboard.\n\nThanks for shipping with us,\nSwiftHaul Dispatch",
		customerName, bookingID, pickupAddress, dropAddress, amount)

	htmlContent := templates.RenderGenericEmail(subject, body)
	if err := sendEmail(customerEmail, customerName, subject, htmlContent, body); err != nil {
		zap.S().Errorw("failed to send booking confirmation", "email", customerEmail, "error", err)
	}
}
