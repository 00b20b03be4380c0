package sqlinline

// jobColumns is repeated verbatim in every job select so scans stay positional.
const jobColumns = `id, tool_type, user_id, status, credit_cost, payload,
       external_task_ref, requires_poll, current_step, step_history,
       output_url, error_message, credits_refunded, raw_completion_payload,
       created_at, updated_at, started_at, completed_at, last_checked_at`

const QAdmissionLock = `--sql 95724c08-ee30-40c9-98dd-4fccc25bdc53
select pg_advisory_xact_lock($1::bigint);
`

const QSelectActiveJobByUser = `--sql 697de88d-41ca-413b-9a64-e1410e64633e
select ` + jobColumns + `
from jobs
where user_id = $1 and status in ('queued', 'running')
order by created_at asc
limit 1;
`

const QCountRunningJobs = `--sql e7d29bbb-bab2-47a6-990b-418a0c276b70
select count(*) from jobs where status = 'running';
`

const QInsertJob = `--sql c200c019-0387-4989-ac32-67a190292bf6
insert into jobs (id, tool_type, user_id, status, credit_cost, payload, current_step, step_history, started_at)
values ($1, $2, $3, $4, $5, coalesce($6::jsonb, '{}'::jsonb), $7,
        jsonb_build_array(jsonb_build_object('step', $7, 'timestamp', now())),
        case when $4 = 'running' then now() end)
returning created_at, updated_at, started_at;
`

const QSelectJobByID = `--sql d0b889a5-b81b-448c-9c2d-45120b326be7
select ` + jobColumns + `
from jobs
where id = $1;
`

const QSelectJobByExternalRef = `--sql 4d65cf5b-75a5-45a0-bcc6-0843f7708b3f
select ` + jobColumns + `
from jobs
where external_task_ref = $1
order by created_at desc
limit 1;
`

const QTransitionJob = `--sql 8bbefa50-eee5-49e2-b0af-cd70d76bda7e
update jobs
set status = $3,
    output_url = coalesce(nullif($4, ''), output_url),
    error_message = coalesce(nullif($5, ''), error_message),
    raw_completion_payload = coalesce($6::jsonb, raw_completion_payload),
    started_at = case when $3 = 'running' then now() else started_at end,
    completed_at = case when $3 in ('completed', 'failed', 'cancelled') then now() else completed_at end,
    updated_at = now()
where id = $1 and status = $2;
`

const QSetJobExternalRef = `--sql 6de58519-4336-4018-bb9a-ddd43300a7eb
update jobs
set external_task_ref = $2, requires_poll = $3, updated_at = now()
where id = $1 and status = 'running';
`

const QAppendJobStep = `--sql d7983bcf-800f-4419-b438-63d5d6061401
update jobs
set current_step = $2,
    step_history = step_history || jsonb_build_object('step', $2, 'timestamp', now(), 'details', $3),
    updated_at = now()
where id = $1;
`

const QPromoteOldestQueued = `--sql d1948448-e2b3-4e55-87aa-9d24f889fad9
with next_job as (
    select id
    from jobs j
    where status = 'queued'
      and (select count(*) from jobs where status = 'running') < $1
      and not exists (
          select 1 from jobs r
          where r.user_id = j.user_id and r.status = 'running'
      )
    order by created_at asc, id asc
    for update skip locked
    limit 1
),
promoted as (
    update jobs
    set status = 'running', started_at = now(), updated_at = now()
    where id in (select id from next_job)
    returning ` + jobColumns + `
)
select * from promoted;
`

const QListStalledRunning = `--sql f71f5001-2200-44b8-b2e3-72f564be8e06
select ` + jobColumns + `
from jobs
where status = 'running' and updated_at < $1
order by updated_at asc
limit $2;
`

const QTouchJob = `--sql 3a8fd0c2-9c14-4f6e-8d27-6b1e5a40c7d9
update jobs
set updated_at = now()
where id = $1 and status = 'running';
`

const QMarkJobChecked = `--sql 16b62599-634a-4c6f-983d-535e93db0b2f
update jobs
set last_checked_at = now()
where id = $1 and status = 'running';
`

const QListRunningPollable = `--sql 1b141791-b851-4432-b26e-0bf9be72cc9e
select ` + jobColumns + `
from jobs
where status = 'running' and requires_poll and external_task_ref <> ''
order by started_at asc nulls last
limit $1;
`
