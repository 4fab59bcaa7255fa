package ftpserver

import "github.com/fclairamb/protoserver/catalog"

// handleUSER records the user, reset
// password/account, clear authenticated, then ask the driver (if the
// server requires immediate feedback it will reply via the AuthResult
// mapping on the following PASS).
func (s *FTPSession) handleUSER(param string) error {
	s.paramsMutex.Lock()
	s.user = param
	s.password = ""
	s.account = ""
	s.authenticated = false
	s.paramsMutex.Unlock()

	result, _, err := s.server.driver.Authenticate(s, param, "", "")
	if err != nil {
		s.writeMessage(StatusNotLoggedIn, catalog.Default.Format("auth.invalid"))

		return nil
	}

	s.applyAuthResult(result, nil, param)

	return nil
}

// handlePASS implements PASS: requires a prior USER.
func (s *FTPSession) handlePASS(param string) error {
	s.paramsMutex.RLock()
	user := s.user
	s.paramsMutex.RUnlock()

	if user == "" {
		s.writeMessage(StatusBadSequence, "Login with USER first")

		return nil
	}

	s.paramsMutex.Lock()
	s.password = param
	s.paramsMutex.Unlock()

	result, driver, err := s.server.driver.Authenticate(s, user, param, "")
	if err != nil {
		s.writeMessage(StatusNotLoggedIn, catalog.Default.Format("auth.invalid"))

		return nil
	}

	s.applyAuthResult(result, driver, user)

	return nil
}

// handleACCT implements ACCT: requires a prior USER.
func (s *FTPSession) handleACCT(param string) error {
	s.paramsMutex.RLock()
	user, pass := s.user, s.password
	s.paramsMutex.RUnlock()

	if user == "" {
		s.writeMessage(StatusBadSequence, "Login with USER first")

		return nil
	}

	s.paramsMutex.Lock()
	s.account = param
	s.paramsMutex.Unlock()

	result, driver, err := s.server.driver.Authenticate(s, user, pass, param)
	if err != nil {
		s.writeMessage(StatusNotLoggedIn, catalog.Default.Format("auth.invalid"))

		return nil
	}

	s.applyAuthResult(result, driver, user)

	return nil
}

// applyAuthResult maps an AuthResult to a reply code and, on success,
// installs the ClientDriver and flips
// authenticated.
func (s *FTPSession) applyAuthResult(result AuthResult, driver ClientDriver, user string) {
	switch result {
	case AuthSuccess:
		s.paramsMutex.Lock()
		s.driver = driver
		s.authenticated = true
		s.paramsMutex.Unlock()
		s.writeMessage(StatusUserLoggedIn, catalog.Default.Format("auth.success", user))
	case AuthNeedPassword:
		s.writeMessage(StatusUserOK, catalog.Default.Format("auth.need_password", user))
	case AuthNeedAccount:
		s.writeMessage(StatusNeedAccount, catalog.Default.Format("auth.need_account", user))
	case AuthTooManyAttempts, AuthUserLimitExceeded:
		s.writeMessage(StatusServiceNotAvailable, catalog.Default.Format("auth.too_many_attempts"))
	case AuthAccountDisabled:
		s.writeMessage(StatusNotLoggedIn, catalog.Default.Format("auth.disabled"))
	case AuthAnonymousNotAllowed:
		s.writeMessage(StatusNotLoggedIn, catalog.Default.Format("auth.anonymous_denied"))
	case AuthInvalidUser, AuthInvalidPassword, AuthInvalidAccount:
		fallthrough
	default:
		s.writeMessage(StatusNotLoggedIn, catalog.Default.Format("auth.invalid"))
	}
}
