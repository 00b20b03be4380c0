package sqlinline

// Reservation draws monthly credits before lifetime ones. The balance check,
// the debit, and the ledger append are one statement so concurrent
// reservations for the same user cannot both pass the check.
const QReserveCredits = `--sql 77eff738-8123-48b7-bc67-c658519b68a2
with current_balance as (
    select user_id, monthly_balance, lifetime_balance
    from credit_accounts
    where user_id = $1
    for update
),
debited as (
    update credit_accounts a
    set monthly_balance = c.monthly_balance - least(c.monthly_balance, $2::int),
        lifetime_balance = c.lifetime_balance - greatest($2::int - c.monthly_balance, 0),
        updated_at = now()
    from current_balance c
    where a.user_id = c.user_id
      and c.monthly_balance + c.lifetime_balance >= $2::int
    returning a.monthly_balance + a.lifetime_balance as balance_after,
              case when c.monthly_balance > 0 then 'monthly' else 'lifetime' end as credit_type
)
insert into credit_transactions (id, user_id, job_id, amount, balance_after, transaction_type, credit_type, description)
select gen_random_uuid(), $1, $4::uuid, -$2::int, d.balance_after, 'consumption', d.credit_type, $3
from debited d
returning balance_after;
`

// Refund is idempotent keyed on the job's credits_refunded flag: the flip and
// the ledger append happen together or not at all, so a duplicate signal can
// never produce a second refund transaction.
const QRefundCredits = `--sql a01b7fa9-84c2-47f9-902d-1f5529740b98
with flipped as (
    update jobs
    set credits_refunded = true
    where id = $1 and user_id = $2 and credits_refunded = false
      and status in ('failed', 'cancelled')
    returning id, user_id
),
credited as (
    update credit_accounts a
    set lifetime_balance = a.lifetime_balance + $3::int,
        updated_at = now()
    from flipped f
    where a.user_id = f.user_id
    returning a.user_id, a.monthly_balance + a.lifetime_balance as balance_after, f.id as job_id
)
insert into credit_transactions (id, user_id, job_id, amount, balance_after, transaction_type, credit_type, description)
select gen_random_uuid(), c.user_id, c.job_id, $3::int, c.balance_after, 'refund', 'lifetime', $4
from credited c
returning balance_after;
`

// Monthly grants are non-cumulative: the new allotment replaces the old one.
const QResetCredits = `--sql 94e295e3-d891-462d-9567-86c3f99c552e
with granted as (
    insert into credit_accounts (user_id, monthly_balance, lifetime_balance)
    values ($1, $2::int, 0)
    on conflict (user_id) do update
        set monthly_balance = excluded.monthly_balance, updated_at = now()
    returning monthly_balance + lifetime_balance as balance_after
)
insert into credit_transactions (id, user_id, job_id, amount, balance_after, transaction_type, credit_type, description)
select gen_random_uuid(), $1, null, $2::int, g.balance_after, 'reset', 'monthly', $3
from granted g
returning balance_after;
`

const QGrantCredits = `--sql 6770a213-687c-40eb-8435-49dd7bf6d7ec
with granted as (
    insert into credit_accounts (user_id, monthly_balance, lifetime_balance)
    values ($1, 0, $2::int)
    on conflict (user_id) do update
        set lifetime_balance = credit_accounts.lifetime_balance + excluded.lifetime_balance,
            updated_at = now()
    returning monthly_balance + lifetime_balance as balance_after
)
insert into credit_transactions (id, user_id, job_id, amount, balance_after, transaction_type, credit_type, description)
select gen_random_uuid(), $1, null, $2::int, g.balance_after, 'bonus', 'lifetime', $3
from granted g
returning balance_after;
`

const QSelectCreditAccount = `--sql 97f0213e-bf36-45f8-a59c-a89687122fd2
select user_id, monthly_balance, lifetime_balance, promo_expiry, updated_at
from credit_accounts
where user_id = $1;
`
