package ftpserver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fclairamb/protoserver/catalog"
)

// handleSITE implements the SITE command's subcommand dispatch: SITE QUOTA
// reports usage, SITE SETQUOTA changes a user's limit
// and requires OpAdmin authorization.
func (s *FTPSession) handleSITE(param string) error {
	if s.server.settings.DisableSite {
		s.writeMessage(StatusCommandNotImplemented, "SITE commands are disabled")

		return nil
	}

	if !s.server.driver.IsAuthorized(s, OpSiteCommand, s.Path()) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	fields := strings.SplitN(strings.TrimSpace(param), " ", 2)

	sub := strings.ToUpper(fields[0])

	var rest string
	if len(fields) > 1 {
		rest = fields[1]
	}

	switch sub {
	case "QUOTA":
		return s.handleSiteQuota(rest)
	case "SETQUOTA":
		return s.handleSiteSetQuota(rest)
	default:
		return s.handleSiteCommandPassthrough(param)
	}
}

// handleSiteCommandPassthrough lets the driver implement SITE subcommands
// the engine itself doesn't know about.
func (s *FTPSession) handleSiteCommandPassthrough(cmd string) error {
	result, message, err := s.server.driver.HandleSiteCommand(s, cmd)
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("SITE command failed: %v", err))

		return nil
	}

	if message == "" {
		message = fmt.Sprintf("SITE %s", cmd)
	}

	s.writeMessage(replyCodeForOpResult(result), message)

	return nil
}

// handleSiteQuota reports the caller's own usage, or (if authorized for
// OpAdmin) another user's when given an argument.
func (s *FTPSession) handleSiteQuota(param string) error {
	qm := s.server.driver.GetQuotaManager()
	if qm == nil {
		s.writeMessage(StatusCommandNotImplemented, "Quotas are not enabled")

		return nil
	}

	user := strings.TrimSpace(param)
	if user == "" {
		user = s.User()
	} else if !s.server.driver.IsAuthorized(s, OpAdmin, user) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	usage, err := qm.Usage(user)
	if err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not fetch quota: %v", err))

		return nil
	}

	end := s.multilineAnswer(StatusSystemStatus, "Quota report")
	defer end()

	if usage.Unlimited {
		s.writeLine(" " + catalog.Default.Format("quota.unlimited", usage.Source.String(), usage.Used))

		return nil
	}

	s.writeLine(" " + catalog.Default.Format("quota.report", usage.Source.String(), usage.Used, usage.Limit, usage.Percent()))

	return nil
}

// handleSiteSetQuota implements "SITE SETQUOTA <user> <bytes>" (§4.5); it
// is gated by OpAdmin since it changes another user's storage allowance.
func (s *FTPSession) handleSiteSetQuota(param string) error {
	qm := s.server.driver.GetQuotaManager()
	if qm == nil {
		s.writeMessage(StatusCommandNotImplemented, "Quotas are not enabled")

		return nil
	}

	fields := strings.Fields(param)
	if len(fields) != 2 {
		s.writeMessage(StatusSyntaxErrorParameters, "usage: SITE SETQUOTA <user> <bytes>")

		return nil
	}

	if !s.server.driver.IsAuthorized(s, OpAdmin, fields[0]) {
		s.writeMessage(StatusPermissionDenied, catalog.Default.Format("permission.denied"))

		return nil
	}

	limit, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		s.writeMessage(StatusSyntaxErrorParameters, "quota limit must be a byte count")

		return nil
	}

	if err := qm.SetLimit(fields[0], limit); err != nil {
		s.writeMessage(StatusActionNotTaken, fmt.Sprintf("Could not set quota: %v", err))

		return nil
	}

	s.writeMessage(StatusOK, "SITE SETQUOTA command successful")

	return nil
}
