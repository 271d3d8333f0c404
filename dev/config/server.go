package config

// SERVER_YML is written to dev/config/server.yml the first time the server
// starts in dev mode. An empty privateKeyPem makes the server sign sessions
// with a throwaway key.
const SERVER_YML = `
sheguard:
  privateKeyPem: ""
  exposeOtp: true
  admins:
    - "admin@sheguard.local"
  cron:
    timeZone: "Asia/Dhaka"
  listener:
    port: 3000

sqlite:
  passPhrase: passphrase

google:
  storage:
    bucket:
    prefix: "sheguard-dev"
    sqliteBackupSchedule: "*/30 * * * *"
    enableSqliteBackup: false
  applicationCredentials:

twilio:
  accountSid:
  authToken:
  messagingServiceSid:

smtp:
  host: "localhost"
  port: 1025
  username:
  password:
  from: "SheGuard <no-reply@sheguard.local>"

redis:
  addr:
  password:
  db: 0

otp:
  maxAttempts: 5
  window: "15m"
`
