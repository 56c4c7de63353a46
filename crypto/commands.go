package crypto

// Command names a session-scoped operation the server only performs on a
// valid MAC. The name is the first MAC input so a MAC issued for one command
// can never authorize another with the same argument shape.
type Command string

// Protocol version 1 command set. The argument order of each constructor
// below is part of the wire contract; client and server both build MAC
// inputs through these functions.
const (
	CommandDisableTwoFactor      Command = "v1/disable-2fa"
	CommandEnableTwoFactorStart  Command = "v1/enable-2fa-start"
	CommandEnableTwoFactorVerify Command = "v1/enable-2fa-confirm"
	CommandChangePasswordStart   Command = "v1/change-password-start"
	CommandChangePasswordFinish  Command = "v1/change-password-finish"
	CommandLogout                Command = "v1/logout"
)

// AuthenticatedCommand is a command, its ordered arguments and the session
// it is bound to.
type AuthenticatedCommand struct {
	Command   Command
	SessionID string
	Args      [][]byte
}

// MACInput is [command, args..., sessionID]. The session ID is always last.
func (c AuthenticatedCommand) MACInput() [][]byte {
	input := make([][]byte, 0, len(c.Args)+2)
	input = append(input, []byte(c.Command))
	input = append(input, c.Args...)
	return append(input, []byte(c.SessionID))
}

// Sign computes the command MAC under sessionKey.
func (c AuthenticatedCommand) Sign(sessionKey []byte) []byte {
	return ComputeMAC(sessionKey, c.MACInput()...)
}

// Verify checks mac against sessionKey in constant time.
func (c AuthenticatedCommand) Verify(sessionKey, mac []byte) bool {
	return VerifyMAC(sessionKey, mac, c.MACInput()...)
}

// DisableTwoFactorCommand orders [twoFactorCode, sessionID].
func DisableTwoFactorCommand(twoFactorCode, sessionID string) AuthenticatedCommand {
	return AuthenticatedCommand{
		Command:   CommandDisableTwoFactor,
		SessionID: sessionID,
		Args:      [][]byte{[]byte(twoFactorCode)},
	}
}

// EnableTwoFactorStartCommand orders [sessionID].
func EnableTwoFactorStartCommand(sessionID string) AuthenticatedCommand {
	return AuthenticatedCommand{Command: CommandEnableTwoFactorStart, SessionID: sessionID}
}

// EnableTwoFactorConfirmCommand orders [twoFactorCode, sessionID].
func EnableTwoFactorConfirmCommand(twoFactorCode, sessionID string) AuthenticatedCommand {
	return AuthenticatedCommand{
		Command:   CommandEnableTwoFactorVerify,
		SessionID: sessionID,
		Args:      [][]byte{[]byte(twoFactorCode)},
	}
}

// ChangePasswordStartCommand orders [registrationRequest, sessionID].
func ChangePasswordStartCommand(registrationRequest []byte, sessionID string) AuthenticatedCommand {
	return AuthenticatedCommand{
		Command:   CommandChangePasswordStart,
		SessionID: sessionID,
		Args:      [][]byte{registrationRequest},
	}
}

// ChangePasswordFinishCommand orders [registrationRecord, encMnemonic,
// ecc.privateKey, ecc.publicKey, kyber.privateKey, kyber.publicKey,
// startLoginRequest, sessionID]. Every field the server commits is covered.
func ChangePasswordFinishCommand(registrationRecord []byte, encMnemonic string, encKeys EncryptedKeys, startLoginRequest []byte, sessionID string) AuthenticatedCommand {
	return AuthenticatedCommand{
		Command:   CommandChangePasswordFinish,
		SessionID: sessionID,
		Args: [][]byte{
			registrationRecord,
			[]byte(encMnemonic),
			[]byte(encKeys.ECC.PrivateKey),
			[]byte(encKeys.ECC.PublicKey),
			[]byte(encKeys.Kyber.PrivateKey),
			[]byte(encKeys.Kyber.PublicKey),
			startLoginRequest,
		},
	}
}

// LogoutCommand orders [sessionID].
func LogoutCommand(sessionID string) AuthenticatedCommand {
	return AuthenticatedCommand{Command: CommandLogout, SessionID: sessionID}
}
