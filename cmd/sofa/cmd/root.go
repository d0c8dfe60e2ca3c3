// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//  http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package cmd holds the commands of the sofa command line tool.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-kivik/sofa"
	"github.com/go-kivik/sofa/chttp"
	"github.com/go-kivik/sofa/cmd/sofa/errors"
	"github.com/go-kivik/sofa/cmd/sofa/output"
	"github.com/go-kivik/sofa/cmd/sofa/output/yaml"
	"github.com/go-kivik/sofa/log"
)

// Configuration keys, shared by flags, SOFA_* environment variables and the
// config file.
const (
	keyDSN            = "dsn"
	keyRequestTimeout = "request-timeout"
	keyRetry          = "retry"
	keyRetryDelay     = "retry-delay"
	keyRetryTimeout   = "retry-timeout"
	keyGzip           = "gzip"
)

type root struct {
	confFile string
	debug    bool
	log      log.Logger
	conf     *viper.Viper
	cmd      *cobra.Command
	fmt      *output.Formatter

	requestTimeout time.Duration
	options        map[string]interface{}
	stringOptions  map[string]string
	boolOptions    map[string]string

	// retry attempts
	retryCount   int
	retryDelay   time.Duration
	noDelay      bool
	retryTimeout time.Duration

	// resolveHome is used to resolve ~ in the config file path
	resolveHome func(string) string
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	lg := log.New()
	root := rootCmd(lg)
	os.Exit(root.execute(ctx))
}

func (r *root) execute(ctx context.Context) int {
	err := r.cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	return extractExitCode(err)
}

func extractExitCode(err error) int {
	if code := errors.InspectErrorCode(err); code != 0 {
		return code
	}

	// Any unhandled errors are assumed to be from Cobra, so return a "failed
	// to initialize" error
	return errors.ErrUsage
}

func formatter() *output.Formatter {
	f := output.New()
	f.Register("json", output.JSON())
	f.Register("raw", output.Raw())
	f.Register("yaml", yaml.New())
	f.Register("go-template", output.Template())
	return f
}

func resolveHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	return filepath.Join(usr.HomeDir, path[2:])
}

func rootCmd(lg log.Logger) *root {
	r := &root{
		log:         lg,
		conf:        viper.New(),
		fmt:         formatter(),
		resolveHome: resolveHome,
	}
	r.cmd = &cobra.Command{
		Use:               "sofa",
		Short:             "sofa queries CouchDB databases",
		Long:              `This tool runs Mango queries, reads views and follows changes feeds on a CouchDB server`,
		PersistentPreRunE: r.init,
		SilenceUsage:      true,
	}

	pf := r.cmd.PersistentFlags()
	r.fmt.ConfigFlags(pf)
	pf.StringVar(&r.confFile, "config", "", "Path to a config file (YAML, JSON or TOML)")
	pf.BoolVarP(&r.debug, "debug", "d", false, "Enable debug output")
	pf.String(keyDSN, "", "Server URL, including credentials if required. Also read from SOFA_DSN")
	pf.String(keyRequestTimeout, "", "The time limit for each request.")
	pf.Int(keyRetry, 0, "In case of transient error, retry up to this many times. A negative value retries forever.")
	pf.String(keyRetryDelay, "", "Delay between retry attempts. Disables the default exponential backoff algorithm.")
	pf.String(keyRetryTimeout, "", "When used with --retry, no more retries will be attempted after this timeout.")
	pf.Bool(keyGzip, false, "Compress request bodies")
	pf.StringToStringVarP(&r.stringOptions, "option", "O", nil, "CouchDB string option, specified as key=value. May be repeated.")
	pf.StringToStringVarP(&r.boolOptions, "option-bool", "B", nil, "CouchDB bool option, specified as key=value. May be repeated.")
	for _, key := range []string{keyDSN, keyRequestTimeout, keyRetry, keyRetryDelay, keyRetryTimeout, keyGzip} {
		if err := r.conf.BindPFlag(key, pf.Lookup(key)); err != nil {
			panic(err)
		}
	}
	r.conf.SetEnvPrefix("SOFA")
	r.conf.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	r.conf.AutomaticEnv()

	r.cmd.AddCommand(pingCmd(r))
	r.cmd.AddCommand(versionCmd(r))
	r.cmd.AddCommand(getCmd(r))
	r.cmd.AddCommand(findCmd(r))
	r.cmd.AddCommand(viewCmd(r))
	r.cmd.AddCommand(iterViewCmd(r))
	r.cmd.AddCommand(changesCmd(r))

	return r
}

// parseDuration accepts a Go duration, or a number of seconds.
func parseDuration(val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	if d, err := strconv.ParseFloat(val, 64); err == nil {
		if d < 0 {
			return 0, errors.Code(errors.ErrUsage, "negative timeout not permitted")
		}
		return time.Duration(d * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.Code(errors.ErrUsage, err)
	}
	if d < 0 {
		return 0, errors.Code(errors.ErrUsage, "negative timeout not permitted")
	}
	return d, nil
}

func (r *root) init(cmd *cobra.Command, _ []string) error {
	r.log.SetOut(cmd.OutOrStdout())
	r.log.SetErr(cmd.ErrOrStderr())
	r.log.SetDebug(r.debug)
	r.fmt.SetOut(cmd.OutOrStdout())

	r.log.Debug("Debug mode enabled")

	if r.confFile != "" {
		r.conf.SetConfigFile(r.resolveHome(r.confFile))
		if err := r.conf.ReadInConfig(); err != nil {
			return errors.Code(errors.ErrNoInput, err)
		}
		r.log.Debugf("Read config from %s", r.conf.ConfigFileUsed())
	}

	if err := r.fmt.Validate(); err != nil {
		return err
	}

	var err error
	if r.requestTimeout, err = parseDuration(r.conf.GetString(keyRequestTimeout)); err != nil {
		return err
	}
	delay := r.conf.GetString(keyRetryDelay)
	if r.retryDelay, err = parseDuration(delay); err != nil {
		return err
	}
	r.noDelay = delay != "" && r.retryDelay == 0
	if r.retryTimeout, err = parseDuration(r.conf.GetString(keyRetryTimeout)); err != nil {
		return err
	}
	r.retryCount = r.conf.GetInt(keyRetry)

	r.options = map[string]interface{}{}
	for k, v := range r.stringOptions {
		r.options[k] = v
	}
	for k, v := range r.boolOptions {
		switch strings.ToLower(v) {
		case "true", "t":
			r.options[k] = true
		case "false", "f":
			r.options[k] = false
		default:
			return errors.Codef(errors.ErrUsage, "invalid boolean value: %s", v)
		}
	}

	if len(r.options) > 0 {
		r.log.Debugf("CouchDB options: %v", r.options)
	}

	return nil
}

func (r *root) client() (*sofa.Client, error) {
	dsn := r.conf.GetString(keyDSN)
	if dsn == "" {
		return nil, errors.Code(errors.ErrUsage, "no server specified; set --dsn or SOFA_DSN")
	}
	opts := []sofa.Option{
		sofa.OptionLogger(r.log),
		sofa.OptionUserAgent("sofa-cli/" + chttp.Version),
	}
	if r.requestTimeout > 0 {
		opts = append(opts, sofa.OptionHTTPClient(&http.Client{Timeout: r.requestTimeout}))
	}
	if r.conf.GetBool(keyGzip) {
		opts = append(opts, sofa.OptionRequestCompression())
	}
	client, err := sofa.New(dsn, opts...)
	if err != nil {
		return nil, errors.Code(errors.ErrUsage, err)
	}
	r.log.Debugf("DSN: %s", client.DSN())
	return client, nil
}

// opts returns the CouchDB options gathered from the command line, followed
// by extra.
func (r *root) opts(extra ...sofa.Option) []sofa.Option {
	opts := make([]sofa.Option, 0, len(extra)+1)
	if len(r.options) > 0 {
		opts = append(opts, sofa.Params(r.options))
	}
	return append(opts, extra...)
}

// transient reports whether err is worth retrying.
func transient(err error) bool {
	switch sofa.KindOf(err) {
	case sofa.ErrTransport:
		return true
	case sofa.ErrConfiguration, sofa.ErrNotFound, sofa.ErrConflict, sofa.ErrUnauthorized:
		return false
	}
	return sofa.HTTPStatus(err) >= http.StatusInternalServerError
}

func (r *root) retry(ctx context.Context, fn func(context.Context) error) error {
	if r.retryCount == 0 {
		return fn(ctx)
	}
	var bo backoff.BackOff
	switch {
	case r.noDelay:
		bo = &backoff.ZeroBackOff{}
	case r.retryDelay != 0:
		bo = backoff.NewConstantBackOff(r.retryDelay)
	default:
		bo = backoff.NewExponentialBackOff()
	}
	if r.retryCount > 0 {
		bo = backoff.WithMaxRetries(bo, uint64(r.retryCount))
	}
	// Results such as a ResultSet outlive the retry loop, so the retry
	// timeout bounds only the backoff, not the requests.
	boCtx := ctx
	if r.retryTimeout > 0 {
		var cancel context.CancelFunc
		boCtx, cancel = context.WithTimeout(ctx, r.retryTimeout)
		defer cancel()
	}
	bo = backoff.WithContext(bo, boCtx)
	var retries int
	return backoff.RetryNotify(func() error {
		err := fn(ctx)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo, func(err error, next time.Duration) {
		retries++
		msg := fmt.Sprintf("Warning: Transient problem: %s.", err)
		if next > 0 {
			msg += fmt.Sprintf(" Will retry in %s.", fmtDuration(next))
		}
		if remain := r.retryCount - retries; r.retryCount > 0 && remain > 0 {
			msg += fmt.Sprintf(" %d retries left.", remain)
		}
		r.log.Error(msg)
	})
}

// nolint:gomnd
func fmtDuration(dur time.Duration) string {
	s := dur.Seconds()
	if s < 60 {
		return fmt.Sprintf("%0.2fs", s)
	}
	m := int(s / 60)
	s -= float64(m) * 60
	if m < 60 {
		return fmt.Sprintf("%dm%ds", m, int(s))
	}
	h := m / 60
	m -= h * 60
	if h < 24 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	d := h / 24
	h -= d * 24
	return fmt.Sprintf("%dd%dh%dm", d, h, m)
}
