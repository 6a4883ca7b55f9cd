package mtproto

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"
)

// terminalAuth 首次登录时从终端读取验证码和两步验证密码
type terminalAuth struct {
	phone    string
	password string

	in           *bufio.Reader
	out          io.Writer
	readPassword func() (string, error)
}

var _ auth.UserAuthenticator = terminalAuth{}

func newTerminalAuth(phone, password string, in io.Reader, out io.Writer) terminalAuth {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return terminalAuth{
		phone:    phone,
		password: password,
		in:       bufio.NewReader(in),
		out:      out,
		readPassword: func() (string, error) {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			return string(b), err
		},
	}
}

func (a terminalAuth) Phone(_ context.Context) (string, error) {
	return a.phone, nil
}

func (a terminalAuth) Password(_ context.Context) (string, error) {
	if a.password != "" {
		return a.password, nil
	}
	fmt.Fprint(a.out, "Enter 2FA password: ")
	password, err := a.readPassword()
	fmt.Fprintln(a.out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(password), nil
}

func (a terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	fmt.Fprintf(a.out, "Enter the code sent to %s: ", a.phone)
	code, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && code != "") {
		return "", fmt.Errorf("read code: %w", err)
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errors.New("empty login code")
	}
	return code, nil
}

func (a terminalAuth) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	return fmt.Errorf("account must accept terms of service %q in an official client", tos.ID.Data)
}

func (a terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, errors.New("phone number is not registered; sign up is not supported")
}
