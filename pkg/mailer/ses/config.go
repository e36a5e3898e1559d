package ses

// Config holds AWS SES provider configuration.
type Config struct {
	Region           string `env:"AWS_REGION" envDefault:"us-east-1"`
	AccessKeyID      string `env:"AWS_ACCESS_KEY_ID"`
	SecretAccessKey  string `env:"AWS_SECRET_ACCESS_KEY"`
	SenderEmail      string `env:"SES_FROM_EMAIL"`
	SenderName       string `env:"SES_FROM_NAME"`
	ConfigurationSet string `env:"SES_CONFIGURATION_SET"`
}
