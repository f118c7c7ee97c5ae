/*
Package runner implements the scheduler that executes selected test cases.

Execution model:

  - Each test occupies one worker slot from dispatch until its environment is released. The pool
    blocks the dispatch loop when every slot is busy, which is the only backpressure point. The
    number of outstanding environment handles therefore never exceeds the concurrency limit.
  - Every attempt gets a deadline of min(test timeout, time left before the run ceiling). Bodies
    are cancelled cooperatively through their context.
  - Failed and timed out attempts are retried according to the test's retry policy, waiting the
    configured backoff between attempts. Retries re-run the whole body. Environments are
    re-provisioned for every attempt unless the descriptor is reusable.
  - With fail-fast, the first failed or timed out test stops dispatching; tests not yet started
    are reported as skipped while running tests finish normally.
  - Results are buffered by selection index so the output order equals the input order
    regardless of completion order.
*/
package runner
