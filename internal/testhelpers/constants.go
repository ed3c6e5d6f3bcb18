// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testhelpers

import (
	"time"
)

// ShortWait is how long to block waiting for something that should not
// happen: long enough to catch it when it does, short enough that the
// suite's unavoidable waits stay cheap.
const ShortWait = 50 * time.Millisecond

// LongWait is used when something should already have happened, or
// happens quickly, and we just don't want to miss it. Tests that pass
// never wait this long.
const LongWait = 10 * time.Second
