package cli

import "context"

// Run is the whole CLI behind a function: it takes the arguments after
// argv[0] and returns the exit code plus any error.
func Run(ctx context.Context, args []string, streams Streams) (CLIResult, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return CLIResult{ExitCode: ExitCode(err)}, err
	}
	return Execute(ctx, inv, streams)
}
