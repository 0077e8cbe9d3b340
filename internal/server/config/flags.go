package config

import (
	"flag"
	"io"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/flagx"
)

var knownFlags = []string{
	"-a", "-m", "-d", "-s", "-k", "-t", "-r",
	"-otp", "-window-min", "-window-max", "-window", "-sweep",
	"-notify-timeout", "-notify-rate", "-smtp", "-smtp-user", "-smtp-password", "-mail-from", "-admins",
	"-u", "-p", "-b", "-g", "-e",
}

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string            gRPC bind address (e.g., ":50051")
//	-m string            metrics HTTP bind address, empty disables
//	-d string            PostgreSQL DSN, or "memory"
//	-s string            JWT HMAC secret key
//	-k string            credential encryption key (base64, 32 bytes)
//	-t int               access token validity, minutes
//	-r int               refresh token validity, minutes
//	-otp duration        OTP validity
//	-window-min duration / -window-max duration / -window duration
//	-sweep duration      expiry sweep interval, 0 disables
//	-notify-timeout duration, -notify-rate int (per minute, 0 unlimited)
//	-smtp host:port, -smtp-user, -smtp-password, -mail-from
//	-admins a@x,b@y      emails promoted to admin on registration
//	-u/-p/-b/-g/-e       S3 user, password, bucket, region, endpoint
//
// Only the flags listed above are considered; everything else in args is
// filtered out with flagx.FilterArgs so other components can share argv.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, knownFlags)

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "credential encryption key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")

	fs.DurationVar(&config.OTPValidity, "otp", config.OTPValidity, "OTP validity")
	fs.DurationVar(&config.ApprovalWindowMin, "window-min", config.ApprovalWindowMin, "minimum approval window")
	fs.DurationVar(&config.ApprovalWindowMax, "window-max", config.ApprovalWindowMax, "maximum approval window")
	fs.DurationVar(&config.ApprovalWindowDefault, "window", config.ApprovalWindowDefault, "default approval window")
	fs.DurationVar(&config.SweepInterval, "sweep", config.SweepInterval, "expiry sweep interval")

	fs.DurationVar(&config.NotifyTimeout, "notify-timeout", config.NotifyTimeout, "notification timeout")
	fs.IntVar(&config.NotifyRatePerMinute, "notify-rate", config.NotifyRatePerMinute, "notifications per minute")
	fs.StringVar(&config.SMTPAddr, "smtp", config.SMTPAddr, "SMTP server host:port")
	fs.StringVar(&config.SMTPUser, "smtp-user", config.SMTPUser, "SMTP user")
	fs.StringVar(&config.SMTPPassword, "smtp-password", config.SMTPPassword, "SMTP password")
	fs.StringVar(&config.MailFrom, "mail-from", config.MailFrom, "notification sender address")
	admins := fs.String("admins", strings.Join(config.BootstrapAdmins, ","), "comma-separated bootstrap admin emails")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		return err
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
	config.BootstrapAdmins = splitList(*admins)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
