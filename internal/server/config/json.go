package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Duration fields use
// timex.Duration so both "1m" and integer nanoseconds are accepted. Only
// fields present in the file override the defaults.
type JsonConfig struct {
	EndpointAddrGRPC             *string         `json:"endpoint_addr_grpc"`
	MetricsAddr                  *string         `json:"metrics_addr"`
	DatabaseDSN                  *string         `json:"database_dsn"`
	SecretKey                    *string         `json:"secret_key"`
	EncryptionKey                *string         `json:"encryption_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration"`
	OTPValidity                  *timex.Duration `json:"otp_validity"`
	ApprovalWindowMin            *timex.Duration `json:"approval_window_min"`
	ApprovalWindowMax            *timex.Duration `json:"approval_window_max"`
	ApprovalWindowDefault        *timex.Duration `json:"approval_window_default"`
	SweepInterval                *timex.Duration `json:"sweep_interval"`
	NotifyTimeout                *timex.Duration `json:"notify_timeout"`
	NotifyRatePerMinute          *int            `json:"notify_rate_per_minute"`
	SMTPAddr                     *string         `json:"smtp_addr"`
	SMTPUser                     *string         `json:"smtp_user"`
	SMTPPassword                 *string         `json:"smtp_password"`
	MailFrom                     *string         `json:"mail_from"`
	BootstrapAdmins              []string        `json:"bootstrap_admins"`
	S3RootUser                   *string         `json:"s3_root_user"`
	S3RootPassword               *string         `json:"s3_root_password"`
	S3Bucket                     *string         `json:"s3_bucket"`
	S3Region                     *string         `json:"s3_region"`
	S3BaseEndpoint               *string         `json:"s3_base_endpoint"`
}

// parseJson overlays values from the JSON file at path onto config.
// An empty path is a no-op.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.EncryptionKey, c.EncryptionKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.OTPValidity, c.OTPValidity)
	setDuration(&config.ApprovalWindowMin, c.ApprovalWindowMin)
	setDuration(&config.ApprovalWindowMax, c.ApprovalWindowMax)
	setDuration(&config.ApprovalWindowDefault, c.ApprovalWindowDefault)
	setDuration(&config.SweepInterval, c.SweepInterval)
	setDuration(&config.NotifyTimeout, c.NotifyTimeout)
	if c.NotifyRatePerMinute != nil {
		config.NotifyRatePerMinute = *c.NotifyRatePerMinute
	}
	setString(&config.SMTPAddr, c.SMTPAddr)
	setString(&config.SMTPUser, c.SMTPUser)
	setString(&config.SMTPPassword, c.SMTPPassword)
	setString(&config.MailFrom, c.MailFrom)
	if c.BootstrapAdmins != nil {
		config.BootstrapAdmins = splitList(strings.Join(c.BootstrapAdmins, ","))
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
