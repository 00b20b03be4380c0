package sqlinline

const QSelectIntegrationToken = `--sql c6a737f1-bea5-4656-a018-f389de4c84e4
select token from integration_tokens where provider = $1;
`

const QUpsertIntegrationToken = `--sql af69816d-f7b1-42c0-9faa-85faed546af2
insert into integration_tokens (provider, token, properties, updated_at)
values ($1, $2, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (provider) do update
    set token = excluded.token, properties = excluded.properties, updated_at = now();
`
